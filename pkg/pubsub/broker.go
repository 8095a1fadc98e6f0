// Package pubsub fans state snapshots out to subscribers. Subscribers
// only ever care about the newest snapshot, so a slow reader sees the
// latest value rather than a backlog.
package pubsub

import (
	"context"
	"sync"
)

// Broker publishes values of type T to any number of subscribers
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[*Subscription[T]]struct{}
	last        T
	hasLast     bool
	closed      bool
}

// Subscription receives published values on Channel
type Subscription[T any] struct {
	broker *Broker[T]
	ch     chan T
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewBroker creates an empty broker
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subscribers: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber until ctx is done or Unsubscribe is called.
// The most recently published value, if any, is delivered immediately.
// Subscribing to a closed broker returns an already-closed subscription.
func (b *Broker[T]) Subscribe(ctx context.Context) *Subscription[T] {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{broker: b, ch: make(chan T, 1), cancel: cancel}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		sub.close()
		return sub
	}
	b.subscribers[sub] = struct{}{}
	if b.hasLast {
		sub.offer(b.last)
	}
	b.mu.Unlock()

	go func() {
		<-subCtx.Done()
		sub.Unsubscribe()
	}()

	return sub
}

// Publish delivers v to every subscriber, replacing any undelivered value
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.last, b.hasLast = v, true
	subs := make([]*Subscription[T], 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.offer(v)
	}
}

// Latest returns the last published value and whether one exists
func (b *Broker[T]) Latest() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.hasLast
}

// SubscriberCount returns the number of live subscriptions
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription; later publishes are dropped
func (b *Broker[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.cancel()
		sub.close()
	}
}

// Channel returns the subscription's value channel. It is closed on
// Unsubscribe or when the broker closes.
func (s *Subscription[T]) Channel() <-chan T {
	return s.ch
}

// Unsubscribe removes the subscription (idempotent)
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()

	s.broker.mu.Lock()
	delete(s.broker.subscribers, s)
	s.broker.mu.Unlock()

	s.close()
}

// offer replaces any pending value with v
func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
