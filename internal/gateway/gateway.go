package gateway

import (
	"context"
	"encoding/json"

	"github.com/tolgaunal/openday-relay/internal/logger"
	"github.com/tolgaunal/openday-relay/internal/metrics"
	"github.com/tolgaunal/openday-relay/internal/model"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/upstream"
	"go.uber.org/zap"
)

// Submitter delivers one payload to the backend.
type Submitter interface {
	SubmitRecord(ctx context.Context, payload json.RawMessage, submissionKey string) (*upstream.SubmitResult, error)
}

// Offliner is the slice of the monitor the gateway needs.
type Offliner interface {
	Online() bool
	MarkOffline()
}

// Outcome reports where a submission ended up: delivered live (Result set)
// or parked in the queue (Offline true, ID and SubmissionKey set).
type Outcome struct {
	Offline       bool
	ID            int64
	SubmissionKey string
	Result        *upstream.SubmitResult
}

// Gateway is the only submit path the UI layer uses. It hides the
// live-or-queue branching so callers never talk to the queue or the backend
// directly.
type Gateway struct {
	store     queue.Store
	submitter Submitter
	monitor   Offliner
}

func New(store queue.Store, submitter Submitter, monitor Offliner) *Gateway {
	return &Gateway{store: store, submitter: submitter, monitor: monitor}
}

// Submit routes one registration. Online, it tries the backend and falls
// back to the queue when the failure is network shaped, flipping the monitor
// offline first so everyone learns at once. Offline, it queues immediately
// without burning a timeout. An application-level rejection is returned
// unchanged and never queued: the backend saw the record and said no.
//
// A queue write failure comes back wrapping queue.ErrStorageUnavailable; the
// record is in neither system and the caller must say so.
func (g *Gateway) Submit(ctx context.Context, payload json.RawMessage) (Outcome, error) {
	key := model.NewSubmissionKey()

	if !g.monitor.Online() {
		return g.enqueue(ctx, payload, key)
	}

	res, err := g.submitter.SubmitRecord(ctx, payload, key)
	if err == nil {
		metrics.SubmissionsTotal.WithLabelValues("live").Inc()
		return Outcome{Result: res}, nil
	}

	if upstream.IsNetworkError(err) {
		logger.Log.Warn("gateway: live submission unreachable, queueing",
			zap.String("submission_key", key),
			zap.Error(err),
		)
		g.monitor.MarkOffline()
		// Same key the dead attempt carried; if the backend actually
		// committed it, the replay deduplicates.
		return g.enqueue(ctx, payload, key)
	}

	metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
	return Outcome{}, err
}

func (g *Gateway) enqueue(ctx context.Context, payload json.RawMessage, key string) (Outcome, error) {
	rec, err := g.store.Enqueue(ctx, payload, key)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("storage_error").Inc()
		return Outcome{}, err
	}

	metrics.SubmissionsTotal.WithLabelValues("queued").Inc()
	logger.Log.Info("gateway: record queued for later sync",
		zap.Int64("id", rec.ID),
		zap.String("submission_key", rec.SubmissionKey),
	)

	return Outcome{Offline: true, ID: rec.ID, SubmissionKey: rec.SubmissionKey}, nil
}
