package model

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// PendingRecord is a registration captured while the backend was unreachable.
// Rows live in the queue until the backend acknowledges them; a resident row
// is by definition unsynced.
type PendingRecord struct {
	ID            int64           `db:"id" json:"id"`
	SubmissionKey string          `db:"submission_key" json:"submission_key"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt    time.Time       `db:"enqueued_at" json:"enqueued_at"`
	Synced        bool            `db:"synced" json:"synced"`
}

// NewSubmissionKey generates a new ULID string
func NewSubmissionKey() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
