// Package notify implements the versioned change-notification bus that
// drives the event-stream channel. It is deliberately ignorant of the
// session registry: callers compute Counts themselves (typically while
// still holding the registry's lock) so that a published Summary's counts
// always reflect the registry state at the moment of publication.
package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reason identifies why a Summary was published.
type Reason string

const (
	ReasonCreated     Reason = "created"
	ReasonDeleted     Reason = "deleted"
	ReasonState       Reason = "state"
	ReasonWSAttached  Reason = "ws-attached"
	ReasonWSDetached  Reason = "ws-detached"
	ReasonResize      Reason = "resize"
	ReasonIdleTimeout Reason = "idle-timeout"
)

// Counts is the aggregate session tally carried on every Summary.
type Counts struct {
	Total      int `json:"total"`
	Ready      int `json:"ready"`
	Connecting int `json:"connecting"`
	Error      int `json:"error"`
	Closed     int `json:"closed"`
}

// Summary is the compact change-notification delivered to subscribers.
type Summary struct {
	Version    uint64   `json:"version"`
	Ts         int64    `json:"ts"`
	Reason     Reason   `json:"reason"`
	ChangedIDs []string `json:"changedIds,omitempty"`
	Counts     Counts   `json:"counts"`
}

// subscriberBuffer bounds how many summaries queue for a slow subscriber
// before newer ones are dropped in its favor. A dead or slow subscriber
// never blocks the publisher.
const subscriberBuffer = 32

// Subscriber receives Summary values and periodic heartbeat ticks. Callers
// must range over C() (or select on it) and call Close() when done.
type Subscriber struct {
	ch        chan Summary
	heartbeat *time.Ticker
	closed    int32
	bus       *Bus
}

// C returns the channel of published summaries for this subscriber.
func (s *Subscriber) C() <-chan Summary { return s.ch }

// Heartbeat returns the subscriber's periodic liveness tick. Ticks on this
// channel are not Notification events.
func (s *Subscriber) Heartbeat() <-chan time.Time { return s.heartbeat.C }

// Close detaches the subscriber from the bus. Idempotent.
func (s *Subscriber) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.heartbeat.Stop()
	s.bus.remove(s)
}

// Bus is the versioned, process-wide notification publisher. The version
// counter is strictly monotonic across all publications.
type Bus struct {
	mu        sync.Mutex
	version   uint64
	subs      map[*Subscriber]struct{}
	heartbeat time.Duration
}

// NewBus creates a Bus whose subscribers receive a liveness tick every
// heartbeat interval.
func NewBus(heartbeat time.Duration) *Bus {
	return &Bus{
		subs:      make(map[*Subscriber]struct{}),
		heartbeat: heartbeat,
	}
}

// nowFn is overridable in tests.
var nowFn = func() int64 { return time.Now().UnixMilli() }

// Publish atomically increments the version, timestamps now, and delivers
// the resulting Summary to every subscriber. Delivery is best-effort: a
// slow or full subscriber buffer causes that delivery to be dropped, never
// a block on the publisher.
func (b *Bus) Publish(reason Reason, changedIDs []string, counts Counts) Summary {
	b.mu.Lock()
	b.version++
	summary := Summary{
		Version:    b.version,
		Ts:         nowFn(),
		Reason:     reason,
		ChangedIDs: changedIDs,
		Counts:     counts,
	}
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- summary:
		default:
		}
	}
	return summary
}

// Subscribe registers a new subscriber and immediately queues an initial
// summary (reason=state) built from initialCounts, so a new listener never
// has to wait for the next change to learn the current picture.
func (b *Bus) Subscribe(initialCounts Counts) *Subscriber {
	b.mu.Lock()
	version := b.version
	sub := &Subscriber{
		ch:        make(chan Summary, subscriberBuffer),
		heartbeat: time.NewTicker(b.heartbeat),
	}
	sub.bus = b
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.ch <- Summary{
		Version: version,
		Ts:      nowFn(),
		Reason:  ReasonState,
		Counts:  initialCounts,
	}
	return sub
}

// Version returns the bus's current version without publishing.
func (b *Bus) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

func (b *Bus) remove(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}
