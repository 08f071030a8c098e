// Package bus provides the change event bus that decouples state mutation
// from delivery. Every subscriber sees events in emission order; a slow or
// panicking subscriber never affects the others or the emitter.
package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event kinds carried on the bus.
const (
	EventStateChanged = "state.changed"
	EventStateFull    = "state.full"
	EventConfigReload = "config.reloaded"
)

// Event is an immutable record of a committed change. Incremental marks the
// Data payload as a diff relative to the previous version rather than a full
// snapshot.
type Event struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Incremental bool      `json:"incremental"`
	Data        any       `json:"data"`
}

// Subscription is the handle returned by Subscribe. Each subscription owns an
// unbounded FIFO queue drained by its own goroutine, so emission never blocks
// on a subscriber.
type Subscription struct {
	fn     func(Event)
	logger *logrus.Entry

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newSubscription(fn func(Event), logger *logrus.Entry) *Subscription {
	s := &Subscription{fn: fn, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Signal()
}

func (s *Subscription) drain() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range batch {
			s.deliver(e)
		}
	}
}

// deliver invokes the callback, recovering panics so one bad subscriber
// cannot take down the drain loop or other subscribers.
func (s *Subscription) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"event": e.Type,
				"panic": r,
			}).Error("Subscriber panicked")
		}
	}()
	s.fn(e)
}

// Bus fans events out to any number of subscribers in emission order.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
	logger *logrus.Entry
}

// New creates an empty event bus.
func New(logger *logrus.Entry) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a callback and returns its handle. The callback runs on
// the subscription's own goroutine.
func (b *Bus) Subscribe(fn func(Event)) *Subscription {
	s := newSubscription(fn, b.logger)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Unsubscribe removes a subscription. Idempotent; events already queued for
// the subscription are dropped.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Emit appends the event to every subscription's queue. The append happens
// under the bus lock so concurrent emitters produce the same order for every
// subscriber; delivery itself is asynchronous per subscription.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(e)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close tears down all subscriptions. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
