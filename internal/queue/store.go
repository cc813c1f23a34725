package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tolgaunal/openday-relay/internal/model"
)

// ErrStorageUnavailable wraps queue storage failures. A submission that hits
// it was not saved anywhere; callers must surface that instead of reporting
// the record as queued.
var ErrStorageUnavailable = errors.New("queue storage unavailable")

const schema = `
	CREATE TABLE IF NOT EXISTS pending_records (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_key TEXT      NOT NULL UNIQUE,
		payload        BLOB      NOT NULL,
		enqueued_at    TIMESTAMP NOT NULL,
		synced         INTEGER   NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pending_enqueued_at ON pending_records (enqueued_at);
`

// Store defines persistence for the pending_records table. A row lives there
// from capture until the backend acknowledges it; deletion is the only ack.
type Store interface {
	// Enqueue persists a payload under the given submission key and returns
	// the stored record with its assigned id. The key comes from the caller
	// so a record queued after a dead live attempt keeps the key that
	// attempt already sent.
	Enqueue(ctx context.Context, payload json.RawMessage, submissionKey string) (model.PendingRecord, error)
	// ListPending returns all resident records, oldest first.
	ListPending(ctx context.Context) ([]model.PendingRecord, error)
	// Count reports how many records are waiting.
	Count(ctx context.Context) (int, error)
	// Remove deletes an acknowledged record. Unknown ids are a no-op.
	Remove(ctx context.Context, id int64) error
	// Clear drops every resident record.
	Clear(ctx context.Context) error
}

// SQLiteStore is a sqlx-backed implementation.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore constructs a SQLiteStore, creating the schema when missing.
func NewSQLiteStore(db *sqlx.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, payload json.RawMessage, submissionKey string) (model.PendingRecord, error) {
	if submissionKey == "" {
		submissionKey = model.NewSubmissionKey()
	}

	rec := model.PendingRecord{
		SubmissionKey: submissionKey,
		Payload:       payload,
		EnqueuedAt:    time.Now().UTC(),
	}

	const q = `
		INSERT INTO pending_records (submission_key, payload, enqueued_at, synced)
		VALUES (?, ?, ?, 0)
	`
	res, err := s.db.ExecContext(ctx, q, rec.SubmissionKey, []byte(rec.Payload), rec.EnqueuedAt)
	if err != nil {
		return model.PendingRecord{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.PendingRecord{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	rec.ID = id

	return rec, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.PendingRecord, error) {
	const q = `
		SELECT id, submission_key, payload, enqueued_at, synced
		FROM pending_records
		WHERE synced = 0
		ORDER BY enqueued_at ASC, id ASC
	`
	var recs []model.PendingRecord
	if err := s.db.SelectContext(ctx, &recs, q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return recs, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM pending_records WHERE synced = 0`

	var n int
	if err := s.db.GetContext(ctx, &n, q); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return n, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	const q = `DELETE FROM pending_records WHERE id = ?`

	// Deleting an id that is already gone is fine: a concurrent manual sync
	// may have acknowledged it first.
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	const q = `DELETE FROM pending_records`

	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return nil
}
