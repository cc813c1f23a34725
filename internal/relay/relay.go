package relay

import (
	"context"
	"encoding/json"

	"github.com/tolgaunal/openday-relay/internal/connectivity"
	"github.com/tolgaunal/openday-relay/internal/gateway"
	"github.com/tolgaunal/openday-relay/internal/metrics"
	"github.com/tolgaunal/openday-relay/internal/model"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/status"
	"github.com/tolgaunal/openday-relay/internal/syncer"
	"github.com/tolgaunal/openday-relay/internal/upstream"
)

// Options tunes the composed pipeline.
type Options struct {
	Probe connectivity.Opts
}

// Service composes the pipeline: durable queue, connectivity monitor, sync
// engine, submission gateway, and status publisher. Everything hangs off the
// instance; two Services can coexist in one process, which the tests use.
type Service struct {
	store     queue.Store
	publisher *status.Publisher
	monitor   *connectivity.Monitor
	engine    *syncer.Engine
	gateway   *gateway.Gateway

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the pipeline around a queue store and a backend client. Nothing
// runs until Start.
func New(store queue.Store, client *upstream.Client, opts Options) *Service {
	pub := status.NewPublisher()
	mon := connectivity.NewMonitor(client, pub, opts.Probe)

	return &Service{
		store:     store,
		publisher: pub,
		monitor:   mon,
		engine:    syncer.NewEngine(store, client, mon, pub),
		gateway:   gateway.New(store, client, mon),
	}
}

// Start attaches the engine to status events and launches the probe loop.
// The engine attaches first so the monitor's initial state reaches it; with
// a healthy backend that replays any records left over from a crash.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.engine.Start()
	go func() {
		defer close(s.done)
		s.monitor.Run(ctx)
	}()
}

// Close stops the probe loop and detaches the engine. The queue store stays
// open; its connection belongs to the caller.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.engine.Close()
}

// Submit routes one registration through the gateway.
func (s *Service) Submit(ctx context.Context, payload json.RawMessage) (gateway.Outcome, error) {
	return s.gateway.Submit(ctx, payload)
}

// TriggerSync runs one drain pass immediately.
func (s *Service) TriggerSync(ctx context.Context) (syncer.Result, error) {
	return s.engine.Drain(ctx)
}

// PendingCount polls the queue depth.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
	return n, err
}

// PendingRecords lists the resident queue, oldest first.
func (s *Service) PendingRecords(ctx context.Context) ([]model.PendingRecord, error) {
	return s.store.ListPending(ctx)
}

// ClearQueue drops every queued record. Administrative escape hatch.
func (s *Service) ClearQueue(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// ConnectivityState returns the monitor's current snapshot.
func (s *Service) ConnectivityState() connectivity.State {
	return s.monitor.State()
}

// HintOnline forwards a platform "link is back" event.
func (s *Service) HintOnline() {
	s.monitor.HintOnline()
}

// HintOffline forwards a platform "link is down" event.
func (s *Service) HintOffline() {
	s.monitor.MarkOffline()
}

// LastDrain reports the most recent drain pass.
func (s *Service) LastDrain() (syncer.DrainReport, bool) {
	return s.engine.LastDrain()
}

// Subscribe attaches fn to the full status stream.
func (s *Service) Subscribe(fn func(status.Event)) func() {
	return s.publisher.Subscribe(fn)
}

// SubscribeConnectivity attaches fn to online/offline changes only. The
// current state, when known, arrives synchronously before Subscribe returns.
func (s *Service) SubscribeConnectivity(fn func(online bool)) func() {
	return s.publisher.Subscribe(func(ev status.Event) {
		if ev.Type != status.EventConnectivity {
			return
		}
		if online, ok := ev.Data["online"].(bool); ok {
			fn(online)
		}
	})
}

// Publisher exposes the status publisher for optional attachments like the
// Redis bridge.
func (s *Service) Publisher() *status.Publisher {
	return s.publisher
}
