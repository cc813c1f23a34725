package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/tolgaunal/openday-relay/internal/logger"
	"github.com/tolgaunal/openday-relay/internal/metrics"
	"github.com/tolgaunal/openday-relay/internal/status"
	"github.com/tolgaunal/openday-relay/internal/upstream"
	"go.uber.org/zap"
)

// Prober performs one liveness check against the backend.
type Prober interface {
	CheckHealth(ctx context.Context) error
}

// State is a point-in-time connectivity snapshot.
type State struct {
	Online              bool `json:"online"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

type Opts struct {
	Interval      time.Duration // default 15s
	Timeout       time.Duration // default 5s
	FailThreshold int           // default 3
}

// Monitor owns the single trusted online/offline boolean.
//
// Going offline takes FailThreshold consecutive network failures so one lost
// probe on flaky venue wifi does not flap the UI. Going online takes a single
// verified probe, so recovery is fast. Probes that reach a server without
// verifying the backend (captive portals, proxies) move the counter in
// neither direction.
type Monitor struct {
	prober        Prober
	publisher     *status.Publisher
	interval      time.Duration
	timeout       time.Duration
	failThreshold int

	mu               sync.Mutex
	online           bool
	consecutiveFails int

	kick chan struct{}
}

// NewMonitor builds a Monitor that starts out assuming online. The first
// probe runs as soon as Run starts and corrects the assumption if needed.
func NewMonitor(prober Prober, publisher *status.Publisher, opts Opts) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = 3
	}

	return &Monitor{
		prober:        prober,
		publisher:     publisher,
		interval:      opts.Interval,
		timeout:       opts.Timeout,
		failThreshold: opts.FailThreshold,
		online:        true,
		kick:          make(chan struct{}, 1),
	}
}

// Run probes until ctx is cancelled. Callers interested in the initial state
// must subscribe to the publisher before starting Run.
func (m *Monitor) Run(ctx context.Context) {
	m.publishInitial()
	m.probe(ctx)

	tick := time.NewTicker(m.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kick:
			m.probe(ctx)
		case <-tick.C:
			m.probe(ctx)
		}
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{Online: m.online, ConsecutiveFailures: m.consecutiveFails}
}

// Online reports whether the backend is currently considered reachable.
func (m *Monitor) Online() bool {
	return m.State().Online
}

// MarkOffline declares the backend unreachable without waiting for probes.
// The gateway calls this when a live submission dies mid-call; the hint
// endpoint calls it when the platform reports the link down.
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	m.consecutiveFails = m.failThreshold
	flipped := m.online
	m.online = false
	m.mu.Unlock()

	if flipped {
		metrics.Online.Set(0)
		logger.Log.Warn("connectivity: marked offline")
		m.publisher.NotifyConnectivity(false)
	}
}

// HintOnline resets the failure streak and schedules an immediate probe.
// The state itself flips only when that probe verifies the backend; platform
// events are hints, not truth.
func (m *Monitor) HintOnline() {
	m.mu.Lock()
	m.consecutiveFails = 0
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Monitor) publishInitial() {
	st := m.State()
	if st.Online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	m.publisher.NotifyConnectivity(st.Online)
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.CheckHealth(pctx)
	switch {
	case err == nil:
		metrics.ProbesTotal.WithLabelValues("healthy").Inc()
		m.markHealthy()
	case upstream.IsNetworkError(err):
		metrics.ProbesTotal.WithLabelValues("network_error").Inc()
		m.markNetworkFailure(err)
	default:
		// Reached a server but could not verify the backend. Proof of
		// neither connectivity nor loss; the counter stays put.
		metrics.ProbesTotal.WithLabelValues("unhealthy").Inc()
		logger.Log.Debug("connectivity: probe inconclusive", zap.Error(err))
	}
}

func (m *Monitor) markHealthy() {
	m.mu.Lock()
	m.consecutiveFails = 0
	flipped := !m.online
	m.online = true
	m.mu.Unlock()

	if flipped {
		metrics.Online.Set(1)
		logger.Log.Info("connectivity: back online")
		m.publisher.NotifyConnectivity(true)
	}
}

func (m *Monitor) markNetworkFailure(err error) {
	m.mu.Lock()
	m.consecutiveFails++
	flipped := m.online && m.consecutiveFails >= m.failThreshold
	if flipped {
		m.online = false
	}
	fails := m.consecutiveFails
	m.mu.Unlock()

	if flipped {
		metrics.Online.Set(0)
		logger.Log.Warn("connectivity: offline after consecutive probe failures",
			zap.Int("failures", fails),
			zap.Error(err),
		)
		m.publisher.NotifyConnectivity(false)
	}
}
