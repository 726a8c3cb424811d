package events

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New(zerolog.Nop())
	var order []int

	b.Subscribe(KindTaskStart, func(any) { order = append(order, 1) })
	b.Subscribe(KindTaskStart, func(any) { order = append(order, 2) })
	b.Subscribe(KindTaskStart, func(any) { order = append(order, 3) })

	b.Publish(KindTaskStart, TaskStart{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestPublishIsolatesPanickingSubscriber(t *testing.T) {
	b := New(zerolog.Nop())
	var secondCalled bool

	b.Subscribe(KindTaskError, func(any) { panic("boom") })
	b.Subscribe(KindTaskError, func(any) { secondCalled = true })

	b.Publish(KindTaskError, TaskError{}) // must not panic out of Publish

	if !secondCalled {
		t.Fatal("expected second subscriber to still run after the first panicked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(zerolog.Nop())
	var calls int

	unsubscribe := b.Subscribe(KindReset, func(any) { calls++ })
	b.Publish(KindReset, struct{}{})
	unsubscribe()
	b.Publish(KindReset, struct{}{})

	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestPublishIgnoresUnrelatedKinds(t *testing.T) {
	b := New(zerolog.Nop())
	var calls int
	b.Subscribe(KindTaskStart, func(any) { calls++ })

	b.Publish(KindTaskComplete, TaskComplete{})

	if calls != 0 {
		t.Fatalf("expected no delivery for a different kind, got %d calls", calls)
	}
}
