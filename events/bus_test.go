package events

import "testing"

func TestBus_PublishOrdering(t *testing.T) {
	bus := NewBus[int]()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(i)
	}

	for i := 0; i < 10; i++ {
		got := <-sub.C
		if got != i {
			t.Fatalf("event %d arrived as %d", i, got)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus[string]()
	sub := bus.Subscribe()

	sub.Unsubscribe()
	sub.Unsubscribe() // must be idempotent

	if n := bus.Subscribers(); n != 0 {
		t.Fatalf("subscriber count after unsubscribe = %d, want 0", n)
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish("late")
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus[int]()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	// Overfill the buffer; Publish must return regardless.
	for i := 0; i < defaultBuffer*2; i++ {
		bus.Publish(i)
	}

	if len(sub.C) != defaultBuffer {
		t.Fatalf("buffered events = %d, want %d", len(sub.C), defaultBuffer)
	}
}

func TestBus_FullBufferDropsNewEvents(t *testing.T) {
	bus := NewBus[int]()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < defaultBuffer*2; i++ {
		bus.Publish(i)
	}

	// The buffered events are the ones published before the buffer
	// filled; later ones were dropped.
	for i := 0; i < defaultBuffer; i++ {
		got := <-sub.C
		if got != i {
			t.Fatalf("event at position %d = %d, want %d", i, got, i)
		}
	}
}
