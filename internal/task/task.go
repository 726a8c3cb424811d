// Package task defines the unit of work the graph and scheduler operate on.
package task

import "context"

// ID is an opaque, user-supplied identifier. Uniqueness is scoped to a single graph.
type ID string

// Handle is passed to a Fn at invocation time. It carries the identity of the
// task being run; it is intentionally thin so a Fn cannot reach back into
// scheduler or graph state.
type Handle struct {
	ID ID
}

// Fn is the capability a task provides: run to a result, or fail with an error.
// It is a closure, not an interface with multiple methods, because running is
// the only operation a task needs to support.
type Fn func(ctx context.Context, h Handle) (any, error)

// Task is an immutable registration: an id plus the function that runs it.
// A Task is never mutated after AddTask; completion is tracked separately
// by whoever runs it (the graph's completed set, in this codebase).
type Task struct {
	ID ID
	Fn Fn
}
