package events

import (
	"time"

	"taskflow/internal/task"
)

// TaskStart is published when the scheduler launches a task's Fn.
type TaskStart struct {
	TaskID task.ID
	Task   *task.Task
}

// TaskComplete is published when a task's Fn returns without error.
type TaskComplete struct {
	TaskID task.ID
	Task   *task.Task
	Result any
}

// TaskError is published when a task's Fn returns an error. The task is not
// marked completed in the graph; its dependents remain blocked forever.
type TaskError struct {
	TaskID task.ID
	Task   *task.Task
	Err    error
}

// QueueComplete is published at most once per run, after every task has
// settled and the graph reports complete.
type QueueComplete struct {
	Stats Stats
}

// QueueStalled is an additional, non-required event (see the design notes):
// the scheduler went quiescent (running and queue both empty) without the
// graph completing, because a failure blocked the remainder.
type QueueStalled struct {
	Stats Stats
}

// ConcurrencyChanged is published by the scheduler whenever SetConcurrency
// takes effect.
type ConcurrencyChanged struct {
	N int
}

// ConcurrencyUpdate is published by the adaptive controller when its control
// law proposes (and clamps to) a new concurrency bound.
type ConcurrencyUpdate struct {
	N int
}

// Metrics is published by the adaptive controller alongside ConcurrencyUpdate
// whenever its recommended concurrency changes.
type Metrics struct {
	Timestamp           time.Time
	CPUUsage            float64
	MemoryUsage         float64
	NewConcurrency      int
	PreviousConcurrency int
}

// Stats is the snapshot returned by Scheduler.Stats and carried on
// QueueComplete / QueueStalled.
type Stats struct {
	RunID       string
	Completed   int
	Failed      int
	Total       int
	Running     int
	Queued      int
	Concurrency int
	Processing  bool
	Paused      bool
	StartedAt   time.Time
	EndedAt     time.Time
}

// Duration reports the elapsed run time. While a run is still in progress,
// EndedAt is the zero Time and Duration measures against time.Now().
func (s Stats) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}
