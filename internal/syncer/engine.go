package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tolgaunal/openday-relay/internal/logger"
	"github.com/tolgaunal/openday-relay/internal/metrics"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/status"
	"github.com/tolgaunal/openday-relay/internal/upstream"
	"go.uber.org/zap"
)

// Submitter delivers one payload to the backend.
type Submitter interface {
	SubmitRecord(ctx context.Context, payload json.RawMessage, submissionKey string) (*upstream.SubmitResult, error)
}

// OnlineChecker exposes the monitor's current verdict.
type OnlineChecker interface {
	Online() bool
}

// Result reports one drain pass. Per-record failures are counted, never
// returned as errors.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// DrainReport is the last completed pass plus when it ran.
type DrainReport struct {
	Result
	At time.Time `json:"at"`
}

// Engine replays the durable queue when the backend is reachable.
//
// Drains are single flight: connectivity transitions, manual syncs, and
// platform hints all funnel into Drain, and overlapping calls collapse into
// zero-progress no-ops instead of double-submitting.
type Engine struct {
	store     queue.Store
	submitter Submitter
	online    OnlineChecker
	publisher *status.Publisher

	draining atomic.Bool
	unsub    func()

	mu        sync.Mutex
	lastDrain *DrainReport
}

func NewEngine(store queue.Store, submitter Submitter, online OnlineChecker, publisher *status.Publisher) *Engine {
	return &Engine{
		store:     store,
		submitter: submitter,
		online:    online,
		publisher: publisher,
	}
}

// Start subscribes the engine to status events. Every online notification,
// including the replayed current state, kicks off a drain in its own
// goroutine, so a startup with a healthy backend replays leftovers right
// away.
func (e *Engine) Start() {
	e.unsub = e.publisher.Subscribe(e.onEvent)
}

// Close detaches the engine from the publisher. A pass already in flight
// finishes on its own.
func (e *Engine) Close() {
	if e.unsub != nil {
		e.unsub()
	}
}

func (e *Engine) onEvent(ev status.Event) {
	if ev.Type != status.EventConnectivity {
		return
	}
	if online, _ := ev.Data["online"].(bool); !online {
		return
	}

	go func() {
		if _, err := e.Drain(context.Background()); err != nil {
			logger.Log.Error("sync: drain after reconnect failed", zap.Error(err))
		}
	}()
}

// LastDrain returns the most recent completed pass, if any.
func (e *Engine) LastDrain() (DrainReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastDrain == nil {
		return DrainReport{}, false
	}
	return *e.lastDrain, true
}

// Drain replays all pending records in enqueue order. Offline or
// already-draining calls return a zero Result immediately. The only error is
// a queue read failure; everything per-record is counted and the pass moves
// on, so one rejected registration cannot wedge the ones behind it.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	if !e.online.Online() {
		return Result{}, nil
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer e.draining.Store(false)

	recs, err := e.store.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list pending: %w", err)
	}
	if len(recs) == 0 {
		return Result{}, nil
	}

	logger.Log.Info("sync: draining queue", zap.Int("pending", len(recs)))

	var res Result
	for _, rec := range recs {
		if ctx.Err() != nil {
			// Cancelled mid-pass; whatever is left stays safely queued.
			break
		}

		if _, err := e.submitter.SubmitRecord(ctx, rec.Payload, rec.SubmissionKey); err != nil {
			res.Failed++
			metrics.DrainedTotal.WithLabelValues("failed").Inc()
			logger.Log.Warn("sync: record not accepted",
				zap.Int64("id", rec.ID),
				zap.String("submission_key", rec.SubmissionKey),
				zap.Error(err),
			)
			continue
		}

		if err := e.store.Remove(ctx, rec.ID); err != nil {
			// The backend has the record but it is still queued here. The
			// next pass re-sends it and the submission key deduplicates.
			res.Failed++
			metrics.DrainedTotal.WithLabelValues("failed").Inc()
			logger.Log.Error("sync: acknowledged record not removed",
				zap.Int64("id", rec.ID),
				zap.Error(err),
			)
			continue
		}

		res.Success++
		metrics.DrainedTotal.WithLabelValues("success").Inc()
	}

	e.mu.Lock()
	e.lastDrain = &DrainReport{Result: res, At: time.Now().UTC()}
	e.mu.Unlock()

	if n, err := e.store.Count(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}

	logger.Log.Info("sync: drain finished",
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
	)

	if res.Success > 0 {
		e.publisher.NotifyDrained(res.Success, res.Failed)
	}

	return res, nil
}
