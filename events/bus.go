// Package events provides a small in-process publish/subscribe bus.
// Each subsystem broadcasts its state changes on a typed bus instead of
// holding raw callback lists, so subscribers get an explicit
// unsubscribe handle and per-subscriber ordering.
package events

import "sync"

const defaultBuffer = 64

// Bus fans out values of type T to all current subscribers. Publish
// never blocks: events published while a subscriber's buffer is full
// are dropped for that subscriber.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// Subscription is one subscriber's receive side. Events arrive on C in
// publish order until Unsubscribe is called.
type Subscription[T any] struct {
	C   chan T
	bus *Bus[T]

	once sync.Once
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new subscriber with the default buffer size.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		C:   make(chan T, defaultBuffer),
		bus: b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers event to every current subscriber without blocking
// the publisher.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.C <- event:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.C)
	})
}
