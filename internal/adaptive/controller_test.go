package adaptive

import (
	"sync"
	"testing"

	"taskflow/internal/events"
)

func collectUpdates(c *Controller) (*[]int, func()) {
	var mu sync.Mutex
	var updates []int
	unsubscribe := c.Bus().Subscribe(events.KindConcurrencyUpdate, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p.(events.ConcurrencyUpdate).N)
	})
	return &updates, unsubscribe
}

func TestAdaptiveDownshiftOnSustainedHighCPU(t *testing.T) {
	c := New(
		WithBounds(1, 8),
		WithTargets(50, 100), // memory target high so only CPU drives this test
		WithAdjustmentStep(1),
		WithInitialConcurrency(4),
	)
	updates, _ := collectUpdates(c)

	c.Feed(90, 10)
	c.Feed(90, 10)
	c.Feed(90, 10)

	got := *updates
	if len(got) != 3 {
		t.Fatalf("expected 3 concurrency-update events, got %v", got)
	}
	want := []int{3, 2, 1}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("updates = %v, want %v", got, want)
		}
	}

	// One more hot sample must not drive concurrency below min.
	c.Feed(90, 10)
	got = *updates
	if len(got) != 3 {
		t.Fatalf("expected concurrency to stay clamped at min, got extra update: %v", got)
	}
}

func TestAdaptiveHoldsWhenWithinBand(t *testing.T) {
	c := New(WithBounds(1, 8), WithTargets(70, 80), WithInitialConcurrency(4))
	updates, _ := collectUpdates(c)

	c.Feed(70, 50)
	c.Feed(71, 49)
	c.Feed(69, 51)

	if got := *updates; len(got) != 0 {
		t.Fatalf("expected no concurrency-update while within target bands, got %v", got)
	}
}

func TestAdaptiveMemoryPressureDominates(t *testing.T) {
	c := New(WithBounds(1, 8), WithTargets(70, 60), WithInitialConcurrency(4))
	updates, _ := collectUpdates(c)

	// CPU looks like it has headroom, but memory is over its band: memory
	// pressure must force a downshift regardless of CPU.
	c.Feed(10, 95)

	got := *updates
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected a forced downshift to 3, got %v", got)
	}
}

func TestSetConcurrencyClampsToBounds(t *testing.T) {
	c := New(WithBounds(2, 6), WithInitialConcurrency(4))
	updates, _ := collectUpdates(c)

	c.SetConcurrency(100)
	c.SetConcurrency(0)

	got := *updates
	if len(got) != 2 || got[0] != 6 || got[1] != 2 {
		t.Fatalf("expected clamped updates [6 2], got %v", got)
	}
}
