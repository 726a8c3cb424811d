package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskflow/internal/events"
	"taskflow/internal/graph"
	"taskflow/internal/task"
)

// eventLog collects every event published on a bus, in emission order, safe
// for concurrent use from scheduler worker goroutines.
type eventLog struct {
	mu   sync.Mutex
	rows []string
}

func (l *eventLog) record(kind events.Kind, id task.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == "" {
		l.rows = append(l.rows, string(kind))
	} else {
		l.rows = append(l.rows, string(kind)+":"+string(id))
	}
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.rows...)
}

func indexOf(rows []string, s string) int {
	for i, r := range rows {
		if r == s {
			return i
		}
	}
	return -1
}

func attach(bus *events.Bus, log *eventLog) {
	bus.Subscribe(events.KindTaskStart, func(p any) { log.record(events.KindTaskStart, p.(events.TaskStart).TaskID) })
	bus.Subscribe(events.KindTaskComplete, func(p any) { log.record(events.KindTaskComplete, p.(events.TaskComplete).TaskID) })
	bus.Subscribe(events.KindTaskError, func(p any) { log.record(events.KindTaskError, p.(events.TaskError).TaskID) })
	bus.Subscribe(events.KindQueueComplete, func(any) { log.record(events.KindQueueComplete, "") })
	bus.Subscribe(events.KindQueueStalled, func(any) { log.record(events.KindQueueStalled, "") })
}

func immediate(result any) task.Fn {
	return func(context.Context, task.Handle) (any, error) { return result, nil }
}

func failing(err error) task.Fn {
	return func(context.Context, task.Handle) (any, error) { return nil, err }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestLinearChain(t *testing.T) {
	g := graph.New()
	g.AddTask("a", immediate("a"))
	g.AddTask("b", immediate("b"))
	g.AddTask("c", immediate("c"))
	if err := g.AddDependency("b", "a"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency("c", "b"); err != nil {
		t.Fatal(err)
	}

	log := &eventLog{}
	s := New(g, WithConcurrency(4))
	attach(s.Bus(), log)

	s.Start()
	waitFor(t, func() bool { return s.Stats().Completed == 3 })

	rows := log.snapshot()
	mustOrder := []string{"task-start:a", "task-complete:a", "task-start:b", "task-complete:b", "task-start:c", "task-complete:c", "queue-complete"}
	last := -1
	for _, want := range mustOrder {
		idx := indexOf(rows, want)
		if idx == -1 {
			t.Fatalf("missing event %q in %v", want, rows)
		}
		if idx <= last {
			t.Fatalf("event %q out of order in %v", want, rows)
		}
		last = idx
	}
}

func TestDiamondParallelism(t *testing.T) {
	g := graph.New()
	release := make(chan struct{})
	started := make(chan task.ID, 2)

	g.AddTask("a", immediate("a"))
	g.AddTask("b", func(ctx context.Context, h task.Handle) (any, error) {
		started <- h.ID
		<-release
		return "b", nil
	})
	g.AddTask("c", func(ctx context.Context, h task.Handle) (any, error) {
		started <- h.ID
		<-release
		return "c", nil
	})
	g.AddTask("d", immediate("d"))
	g.AddDependency("b", "a")
	g.AddDependency("c", "a")
	g.AddDependency("d", "b", "c")

	s := New(g, WithConcurrency(2))
	s.Start()

	first := <-started
	second := <-started
	if first == second {
		t.Fatal("expected b and c to both start before either completes")
	}
	close(release)

	waitFor(t, func() bool { return s.Stats().Completed == 4 })
}

func TestCycleRejectionDoesNotMutate(t *testing.T) {
	g := graph.New()
	g.AddTask("a", immediate(nil))
	g.AddTask("b", immediate(nil))
	g.AddTask("c", immediate(nil))
	g.AddDependency("b", "a")
	g.AddDependency("c", "b")

	err := g.AddDependency("a", "c")
	if !errors.Is(err, graph.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []task.ID{"a", "b", "c"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("TopologicalOrder = %v, want %v", order, want)
		}
	}
}

func TestFailureIsolation(t *testing.T) {
	g := graph.New()
	g.AddTask("a", failing(errors.New("boom")))
	g.AddTask("b", immediate("b"))
	g.AddTask("c", immediate("c"))
	g.AddDependency("b", "a")

	log := &eventLog{}
	s := New(g, WithConcurrency(4))
	attach(s.Bus(), log)

	s.Start()
	waitFor(t, func() bool { return s.Stats().Completed+s.Stats().Failed == 2 })
	time.Sleep(20 * time.Millisecond) // let any (incorrect) b dispatch surface

	stats := s.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Total != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	rows := log.snapshot()
	if indexOf(rows, "task-start:b") != -1 {
		t.Fatalf("b must never start, got %v", rows)
	}
	if indexOf(rows, "queue-complete") != -1 {
		t.Fatalf("queue-complete must not be emitted when a failure blocks the remainder, got %v", rows)
	}
	if indexOf(rows, "queue-stalled") == -1 {
		t.Fatalf("expected queue-stalled once the graph went quiescent, got %v", rows)
	}
}

func TestSetConcurrencyZeroIsValidationError(t *testing.T) {
	g := graph.New()
	s := New(g)
	if _, err := s.SetConcurrency(0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSetConcurrencyWidensImmediately(t *testing.T) {
	g := graph.New()
	for _, id := range []task.ID{"a", "b", "c"} {
		id := id
		g.AddTask(id, func(ctx context.Context, h task.Handle) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, nil
		})
	}

	s := New(g, WithConcurrency(1))
	s.Start()
	time.Sleep(5 * time.Millisecond) // let the first task claim the only slot
	if got := s.Stats().Running; got != 1 {
		t.Fatalf("expected exactly 1 running before widening, got %d", got)
	}

	if _, err := s.SetConcurrency(3); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.Stats().Running >= 2 })
	waitFor(t, func() bool { return s.Stats().Completed == 3 })
}

func TestResetAllowsRerun(t *testing.T) {
	g := graph.New()
	g.AddTask("a", immediate("a"))

	s := New(g, WithConcurrency(1))
	s.Start()
	waitFor(t, func() bool { return s.Stats().Completed == 1 })

	s.Reset()
	stats := s.Stats()
	if stats.Completed != 0 || stats.Total != 0 {
		t.Fatalf("expected zeroed stats after Reset, got %+v", stats)
	}
	if g.IsComplete() {
		t.Fatal("expected graph to be incomplete after Reset")
	}

	s.Start()
	waitFor(t, func() bool { return s.Stats().Completed == 1 })
}

func TestStopWithoutWaitDropsButStillTallies(t *testing.T) {
	g := graph.New()
	block := make(chan struct{})
	g.AddTask("a", func(ctx context.Context, h task.Handle) (any, error) {
		<-block
		return nil, nil
	})

	s := New(g, WithConcurrency(1))
	s.Start()
	waitFor(t, func() bool { return s.Stats().Running == 1 })

	s.Stop(false)
	if s.Stats().Processing {
		t.Fatal("expected processing to be false immediately after Stop(false)")
	}
	close(block)
	waitFor(t, func() bool { return s.Stats().Completed == 1 })
}
