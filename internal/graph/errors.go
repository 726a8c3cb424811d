package graph

import (
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/task"
)

// Sentinel errors so callers can compare with errors.Is regardless of the
// concrete wrapping type.
var (
	ErrDuplicateTask = errors.New("graph: duplicate task")
	ErrUnknownTask   = errors.New("graph: unknown task")
	ErrCycle         = errors.New("graph: cycle")
)

// DuplicateTaskError is raised by AddTask when id is already registered.
type DuplicateTaskError struct {
	ID task.ID
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("graph: task %q already registered", e.ID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// UnknownTaskError is raised whenever an operation references an id that was
// never registered with AddTask.
type UnknownTaskError struct {
	ID task.ID
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("graph: task %q is not registered", e.ID)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// CycleError is raised when a mutation would introduce a cycle into the
// dependency relation, or when TopologicalOrder detects one that should have
// been impossible given the mutation invariants.
type CycleError struct {
	// Path is a witness cycle, earliest-dependency first, repeating the
	// starting id at the end (e.g. ["a", "b", "a"]).
	Path []task.ID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, id := range e.Path {
		names[i] = string(id)
	}
	return fmt.Sprintf("graph: cycle detected: %s", strings.Join(names, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }
