// Package scheduler drives a graph.Graph to completion under a bounded,
// live-retunable worker pool. It generalizes the teacher's depth-staged,
// errgroup-free RunParallel dispatch loop (internal/dag/executor.go in the
// teacher repository) into a fully dynamic, ready-queue-driven dispatcher: a
// single mutex owns the running set, ready queue, counters and mode flags,
// exactly the "single-owner coordination model" the design notes call for.
// Workers never touch this state directly — they hand their result back to
// onSettled, which re-acquires the mutex.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskflow/internal/events"
	"taskflow/internal/graph"
	"taskflow/internal/task"
)

// Advisor is satisfied by an adaptive controller: a pure, one-way source of
// concurrency recommendations. The scheduler never shares state with it.
type Advisor interface {
	Subscribe(handler func(n int)) (unsubscribe func())
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithConcurrency sets the initial concurrency bound (default 4).
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

// WithAutoStart begins dispatch immediately on construction (default false).
func WithAutoStart(autoStart bool) Option {
	return func(s *Scheduler) { s.autoStart = autoStart }
}

// WithAdvisor wires an Adaptive Controller (or anything satisfying Advisor)
// as a one-way concurrency advisor: the scheduler subscribes and calls its
// own SetConcurrency on every recommendation.
func WithAdvisor(a Advisor) Option {
	return func(s *Scheduler) { s.advisor = a }
}

// WithLogger attaches structured logging (default: a disabled zerolog.Logger).
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithBus supplies a pre-built event bus, e.g. one shared with an adaptive
// controller's own events. Defaults to a private bus.
func WithBus(b *events.Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

// Scheduler drives a referenced Graph to completion. It borrows the graph;
// it does not own it, and the graph may outlive the scheduler or be reused
// after Reset.
type Scheduler struct {
	mu sync.Mutex

	// emitMu serializes every mutate-then-publish sequence that can race
	// with another one on a different goroutine (Start/Resume/
	// SetConcurrency/onSettled). Holding mu alone is not enough: mu is
	// released before publishing so handlers can call back into Stats()
	// without deadlocking, but that means two goroutines racing through
	// their own "mutate under mu, then publish" sequence could have their
	// publishes land out of the order their mutations actually happened
	// in. emitMu pins total publish order to total mutation order without
	// holding mu across the publish calls themselves.
	emitMu sync.Mutex

	g      *graph.Graph
	bus    *events.Bus
	logger zerolog.Logger

	concurrency int
	autoStart   bool
	advisor     Advisor

	processing bool
	paused     bool
	status     Status

	running   map[task.ID]struct{}
	queue     []task.ID
	queuedSet map[task.ID]bool
	failedSet map[task.ID]bool // never re-queued until Reset

	total, completed, failed int
	startedAt, endedAt       time.Time
	completionReported       bool

	generation uint64
	runID      string

	wg sync.WaitGroup

	unsubscribeAdvisor func()
}

// New constructs a Scheduler bound to g. The scheduler does not start
// dispatching until Start is called, unless WithAutoStart(true) is given.
func New(g *graph.Graph, opts ...Option) *Scheduler {
	s := &Scheduler{
		g:           g,
		concurrency: 4,
		logger:      zerolog.Nop(),
		running:     make(map[task.ID]struct{}),
		queuedSet:   make(map[task.ID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.New(s.logger)
	}
	if s.advisor != nil {
		s.unsubscribeAdvisor = s.advisor.Subscribe(func(n int) {
			if _, err := s.SetConcurrency(n); err != nil {
				s.logger.Error().Err(err).Int("n", n).Msg("advisor proposed an invalid concurrency bound")
			}
		})
	}
	if s.autoStart {
		s.Start()
	}
	return s
}

// Bus exposes the scheduler's event bus so external collaborators (a
// Monitor, tests) can subscribe to its lifecycle events.
func (s *Scheduler) Bus() *events.Bus { return s.bus }

// Close unwires this scheduler from its advisor, if any. It does not stop
// the scheduler itself.
func (s *Scheduler) Close() {
	if s.unsubscribeAdvisor != nil {
		s.unsubscribeAdvisor()
	}
}

// Start begins dispatch. If already processing, this is a no-op. Returns
// the scheduler so callers can chain e.g. scheduler.New(g).Start().
func (s *Scheduler) Start() *Scheduler {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.startLocked()
	return s
}

// startLocked is Start's body, factored out so Resume can reach it without
// trying to re-acquire emitMu (sync.Mutex is not reentrant). Callers must
// hold emitMu.
func (s *Scheduler) startLocked() {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.paused = false
	s.status = StatusRunning
	if s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	s.total = len(s.g.AllTasks())
	s.completionReported = false
	s.runID = uuid.NewString()
	s.seedQueueLocked()
	gen := s.generation
	started := s.dispatchLocked()
	s.mu.Unlock()

	s.launch(gen, started)
}

// Pause inhibits new dispatches; in-flight tasks continue running.
func (s *Scheduler) Pause() *Scheduler {
	s.mu.Lock()
	if !s.processing {
		s.mu.Unlock()
		return s
	}
	s.paused = true
	s.status = StatusPaused
	s.mu.Unlock()

	s.bus.Publish(events.KindPaused, struct{}{})
	return s
}

// Resume clears paused and resumes dispatch. If the scheduler is not
// currently processing, Resume behaves exactly like Start.
func (s *Scheduler) Resume() *Scheduler {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.processing {
		s.mu.Unlock()
		s.startLocked()
		return s
	}
	s.paused = false
	s.status = StatusRunning
	gen := s.generation
	started := s.dispatchLocked()
	s.mu.Unlock()

	s.bus.Publish(events.KindResumed, struct{}{})
	s.launch(gen, started)
	return s
}

// Stop clears processing and drops the pending ready queue. If
// waitForRunning, Stop awaits every in-flight task to settle before
// returning; otherwise it returns immediately and those tasks' completion
// events still fire when they settle, but are not honored for further
// dispatch (see the concurrency design notes).
func (s *Scheduler) Stop(waitForRunning bool) *Scheduler {
	s.mu.Lock()
	s.processing = false
	s.paused = false
	s.status = StatusStopped
	s.queue = nil
	s.queuedSet = make(map[task.ID]bool)
	s.endedAt = time.Now()
	s.mu.Unlock()

	s.bus.Publish(events.KindStopped, struct{}{})

	if waitForRunning {
		s.wg.Wait()
	}
	return s
}

// Reset stops without waiting, resets the graph's completed set, and zeroes
// the scheduler's own counters, timestamps, running set and ready queue so
// the same graph can be run again from scratch. Any task settling from the
// superseded run is tallied nowhere and triggers no further dispatch.
func (s *Scheduler) Reset() *Scheduler {
	s.mu.Lock()
	s.processing = false
	s.paused = false
	s.status = StatusIdle
	s.queue = nil
	s.queuedSet = make(map[task.ID]bool)
	s.running = make(map[task.ID]struct{})
	s.failedSet = nil
	s.completed = 0
	s.failed = 0
	s.total = 0
	s.startedAt = time.Time{}
	s.endedAt = time.Time{}
	s.completionReported = false
	s.generation++
	s.mu.Unlock()

	s.g.Reset()
	s.bus.Publish(events.KindReset, struct{}{})
	return s
}

// SetConcurrency updates the concurrency bound. n must be positive. If the
// scheduler is processing and not paused, widening the bound immediately
// attempts additional dispatches; narrowing never preempts running tasks.
func (s *Scheduler) SetConcurrency(n int) (*Scheduler, error) {
	if n <= 0 {
		return s, &ValidationError{Field: "concurrency", Value: n}
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.concurrency = n
	gen := s.generation
	var started []task.ID
	if s.processing && !s.paused {
		started = s.dispatchLocked()
	}
	s.mu.Unlock()

	s.bus.Publish(events.KindConcurrencyChanged, events.ConcurrencyChanged{N: n})
	s.launch(gen, started)
	return s, nil
}

// Stats returns a snapshot of counters, mode flags, and duration.
func (s *Scheduler) Stats() events.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Scheduler) statsLocked() events.Stats {
	return events.Stats{
		RunID:       s.runID,
		Completed:   s.completed,
		Failed:      s.failed,
		Total:       s.total,
		Running:     len(s.running),
		Queued:      len(s.queue),
		Concurrency: s.concurrency,
		Processing:  s.processing,
		Paused:      s.paused,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
	}
}

// seedQueueLocked discards any existing queue and rebuilds it from the
// graph's current ready set. Called only from Start; ids still in the
// running set (e.g. after Stop(false)) are skipped by refreshQueueLocked.
func (s *Scheduler) seedQueueLocked() {
	s.queue = nil
	s.queuedSet = make(map[task.ID]bool)
	s.refreshQueueLocked()
}

// refreshQueueLocked adds any newly-ready ids to the tail of the queue,
// skipping ids already running, already queued, or failed in this run.
func (s *Scheduler) refreshQueueLocked() {
	for _, id := range s.g.ReadyTasks() {
		if _, running := s.running[id]; running {
			continue
		}
		if s.failedSet[id] {
			continue
		}
		if s.queuedSet[id] {
			continue
		}
		s.queue = append(s.queue, id)
		s.queuedSet[id] = true
	}
}

// dispatchLocked moves ready, queued ids into the running set up to the
// concurrency bound and returns the ids that were moved. It must be called
// with mu held, and its callers must unlock before invoking launch with the
// result, since launch emits events and starts goroutines.
func (s *Scheduler) dispatchLocked() []task.ID {
	var started []task.ID
	for s.processing && !s.paused && len(s.queue) > 0 && len(s.running) < s.concurrency {
		id := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queuedSet, id)
		s.running[id] = struct{}{}
		started = append(started, id)
	}
	return started
}

// launch emits task-start and spawns a goroutine for each id in started. It
// must be called without mu held.
func (s *Scheduler) launch(gen uint64, started []task.ID) {
	for _, id := range started {
		t, err := s.g.Get(id)
		if err != nil {
			// ReadyTasks just returned this id; the graph disagreeing now is
			// a programmer bug (concurrent graph mutation during a run),
			// not a recoverable runtime condition.
			panic(fmt.Errorf("scheduler: ready task %q vanished from graph: %w", id, err))
		}
		s.bus.Publish(events.KindTaskStart, events.TaskStart{TaskID: id, Task: t})
		s.wg.Add(1)
		go s.runTask(gen, id, t)
	}
}

func (s *Scheduler) runTask(gen uint64, id task.ID, t *task.Task) {
	defer s.wg.Done()
	result, err := s.invoke(t)
	s.onSettled(gen, id, t, result, err)
}

// invoke runs a task's Fn, converting a panic into an error so one
// misbehaving TaskFn cannot take down the scheduler goroutine.
func (s *Scheduler) invoke(t *task.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.ID, r)
		}
	}()
	return t.Fn(context.Background(), task.Handle{ID: t.ID})
}

// onSettled is the completion path for every launched task: it updates
// graph/counters under the mutex, then emits events and launches further
// dispatch after unlocking. The whole mutate-then-publish sequence runs
// under emitMu so that two tasks settling concurrently (e.g. both halves of
// a diamond join) cannot have their publishes race past each other out of
// the order their mutations actually committed in — see the emitMu comment
// on the Scheduler struct.
func (s *Scheduler) onSettled(gen uint64, id task.ID, t *task.Task, result any, err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	stale := gen != s.generation
	delete(s.running, id)

	if !stale {
		if err == nil {
			if mErr := s.g.MarkCompleted(id); mErr != nil {
				s.mu.Unlock()
				panic(fmt.Errorf("scheduler: MarkCompleted(%q) on a task we just ran: %w", id, mErr))
			}
			s.completed++
		} else {
			s.failed++
			if s.failedSet == nil {
				s.failedSet = make(map[task.ID]bool)
			}
			s.failedSet[id] = true
		}
		s.refreshQueueLocked()
	}

	var started []task.ID
	if !stale {
		started = s.dispatchLocked()
	}
	kind, stats := s.checkQuiescenceLocked(stale)
	s.mu.Unlock()

	if err == nil {
		s.bus.Publish(events.KindTaskComplete, events.TaskComplete{TaskID: id, Task: t, Result: result})
	} else {
		s.bus.Publish(events.KindTaskError, events.TaskError{TaskID: id, Task: t, Err: err})
	}

	s.launch(gen, started)

	switch kind {
	case quiescenceComplete:
		s.bus.Publish(events.KindQueueComplete, events.QueueComplete{Stats: stats})
	case quiescenceStalled:
		s.bus.Publish(events.KindQueueStalled, events.QueueStalled{Stats: stats})
	}
}

// checkQuiescenceLocked decides whether the run just went quiescent, and if
// so, which kind. It must be called with mu held, and reports at most once
// per generation via completionReported.
func (s *Scheduler) checkQuiescenceLocked(stale bool) (quiescenceKind, events.Stats) {
	if stale || s.completionReported {
		return quiescenceNone, events.Stats{}
	}
	if len(s.running) > 0 || len(s.queue) > 0 {
		return quiescenceNone, events.Stats{}
	}
	s.endedAt = time.Now()
	s.completionReported = true
	stats := s.statsLocked()
	if s.g.IsComplete() {
		return quiescenceComplete, stats
	}
	return quiescenceStalled, stats
}
