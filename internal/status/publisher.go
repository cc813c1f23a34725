package status

import (
	"sync"
	"time"
)

const (
	EventConnectivity = "connectivity"
	EventQueueDrained = "queue_drained"
)

// Event is the envelope pushed to subscribers: a type tag, a small data
// object, and a timestamp. The same shape goes out on the SSE stream and the
// Redis bridge.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher fans events out to an explicit subscriber list. Connectivity
// events are sticky: the most recent one is replayed to each new subscriber
// so nobody starts without a state.
//
// Callbacks run sequentially on the notifying goroutine and must not block;
// anything slow belongs in the subscriber's own goroutine.
type Publisher struct {
	mu       sync.Mutex
	subs     map[int]func(Event)
	nextID   int
	lastConn *Event
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and immediately replays the last connectivity event
// when one exists. The returned func removes the subscription; calling it
// more than once is harmless.
func (p *Publisher) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	last := p.lastConn
	p.mu.Unlock()

	if last != nil {
		fn(*last)
	}

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// NotifyConnectivity publishes an online/offline transition.
func (p *Publisher) NotifyConnectivity(online bool) {
	p.publishSticky(Event{
		Type:      EventConnectivity,
		Data:      map[string]any{"online": online},
		Timestamp: time.Now().UTC(),
	})
}

// NotifyDrained publishes the result of a drain that moved records. The UI
// treats it as "stored data changed, refresh what you show".
func (p *Publisher) NotifyDrained(success, failed int) {
	p.publish(Event{
		Type:      EventQueueDrained,
		Data:      map[string]any{"success": success, "failed": failed},
		Timestamp: time.Now().UTC(),
	})
}

// LastConnectivity returns the most recent connectivity event, if any.
func (p *Publisher) LastConnectivity() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastConn == nil {
		return Event{}, false
	}
	return *p.lastConn, true
}

func (p *Publisher) publishSticky(ev Event) {
	p.mu.Lock()
	p.lastConn = &ev
	fns := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Publisher) publish(ev Event) {
	p.mu.Lock()
	fns := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// snapshotLocked copies the subscriber list so callbacks run outside the
// lock. A callback may publish again or unsubscribe without deadlocking.
func (p *Publisher) snapshotLocked() []func(Event) {
	fns := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	return fns
}
