// Package events fans job state changes out to any number of observers.
//
// The queue publishes one Event per committed registry change. Subscribers
// read from a buffered channel; a subscriber that falls behind loses events
// instead of stalling the queue. Observers are called synchronously inside
// Publish and never miss an event; they must return quickly.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// Type identifies what happened to a job.
type Type string

// Event types.
const (
	JobEnqueued  Type = "job.enqueued"
	JobStarted   Type = "job.started"
	JobProgress  Type = "job.progress"
	JobRetrying  Type = "job.retrying"
	JobSucceeded Type = "job.succeeded"
	JobFailed    Type = "job.failed"
	JobCanceled  Type = "job.canceled"
)

// ForStatus maps the status a transition landed in to its event type.
func ForStatus(status types.JobStatus) Type {
	switch status {
	case types.StatusRunning:
		return JobStarted
	case types.StatusRetrying:
		return JobRetrying
	case types.StatusSucceeded:
		return JobSucceeded
	case types.StatusFailed:
		return JobFailed
	case types.StatusCanceled:
		return JobCanceled
	default:
		return JobEnqueued
	}
}

// Event carries a copy of the job as it was right after the change.
type Event struct {
	Type Type      `json:"type"`
	Job  types.Job `json:"job"`
	At   time.Time `json:"at"`
}

// DefaultBufferSize is the per-subscriber buffer used when Subscribe gets a non-positive size.
const DefaultBufferSize = 256

// Subscription is one observer's view of the bus.
type Subscription struct {
	id      string
	ch      chan Event
	dropped atomic.Int64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the event channel. It is closed on Unsubscribe or bus Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Handler is a synchronous observer.
type Handler func(Event)

type observer struct {
	id string
	fn Handler
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	observers []observer
	closed    bool
	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a new observer with the given buffer size.
// Subscribing to a closed bus returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Observe registers fn to be called for every published event, in publish
// order, on the publisher's goroutine. fn must not call back into the bus.
// The returned func removes it.
func (b *Bus) Observe(fn Handler) (remove func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.NewString()

	b.mu.Lock()
	b.observers = append(b.observers, observer{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, o := range b.observers {
			if o.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every observer, then delivers evt to every subscriber
// without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	for _, o := range b.observers {
		o.fn(evt)
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscription. Later Publish calls are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.observers = nil
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Stats reports bus counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Observers   int   `json:"observers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n, o := len(b.subs), len(b.observers)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Observers:   o,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
