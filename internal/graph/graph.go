// Package graph implements the mutable dependency model described by the
// engine: tasks, their forward/reverse adjacency, and a completion set.
//
// Unlike a content-addressed build graph, this graph has no notion of a
// stable hash identity — it is built incrementally by the caller and reused
// across runs via Reset. Determinism here means "stable given identical
// insertion order", not "stable given identical content".
package graph

import (
	"sync"

	"taskflow/internal/task"
)

// TaskOption configures a single task at registration time. None are defined
// yet; the parameter exists so callers can attach per-task metadata later
// without breaking the AddTask signature.
type TaskOption func(*taskOptions)

type taskOptions struct{}

// Graph is the dependency model. It is safe for concurrent use: ReadyTasks
// and MarkCompleted are called by the scheduler from dispatch goroutines
// while AddTask/AddDependency are expected to be called by user code before
// or between runs (see the shared-resource policy in SPEC_FULL.md §5).
type Graph struct {
	mu sync.RWMutex

	tasks map[task.ID]*task.Task
	order []task.ID // registration order, used to break ties deterministically

	deps  map[task.ID][]task.ID
	rdeps map[task.ID][]task.ID

	completed map[task.ID]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		tasks:     make(map[task.ID]*task.Task),
		deps:      make(map[task.ID][]task.ID),
		rdeps:     make(map[task.ID][]task.ID),
		completed: make(map[task.ID]bool),
	}
}

// AddTask registers a new task. It fails with *DuplicateTaskError if id is
// already registered. Returns g so calls can be chained when each call's
// error is checked (or ignored deliberately by the caller).
func (g *Graph) AddTask(id task.ID, fn task.Fn, opts ...TaskOption) (*Graph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[id]; exists {
		return g, &DuplicateTaskError{ID: id}
	}

	o := &taskOptions{}
	for _, opt := range opts {
		opt(o)
	}

	g.tasks[id] = &task.Task{ID: id, Fn: fn}
	g.order = append(g.order, id)
	g.deps[id] = nil
	g.rdeps[id] = nil
	return g, nil
}

// AddDependency records that id depends on each of prereqs: id may not run
// until every prereq has been marked completed. The whole call is atomic —
// if any prereq fails validation or would introduce a cycle, none of the
// batch's edges are committed.
func (g *Graph) AddDependency(id task.ID, prereqs ...task.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[id]; !exists {
		return &UnknownTaskError{ID: id}
	}
	for _, p := range prereqs {
		if _, exists := g.tasks[p]; !exists {
			return &UnknownTaskError{ID: p}
		}
	}

	// Work on copies so a mid-batch failure leaves the live maps untouched.
	deps := cloneAdjacency(g.deps)
	rdeps := cloneAdjacency(g.rdeps)

	for _, p := range prereqs {
		if p == id {
			return &CycleError{Path: []task.ID{id, id}}
		}
		if contains(deps[id], p) {
			continue // idempotent
		}
		if path, cyclic := reachable(deps, p, id); cyclic {
			return &CycleError{Path: append([]task.ID{id}, path...)}
		}
		deps[id] = append(deps[id], p)
		rdeps[p] = append(rdeps[p], id)
	}

	g.deps = deps
	g.rdeps = rdeps
	return nil
}

// reachable performs a depth-first search from start over the deps relation,
// looking for target. It returns the path taken if target is found.
func reachable(deps map[task.ID][]task.ID, start, target task.ID) ([]task.ID, bool) {
	visited := make(map[task.ID]bool)
	var path []task.ID

	var dfs func(task.ID) bool
	dfs = func(cur task.ID) bool {
		if visited[cur] {
			return false
		}
		visited[cur] = true
		path = append(path, cur)
		if cur == target {
			return true
		}
		for _, next := range deps[cur] {
			if dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if dfs(start) {
		return path, true
	}
	return nil, false
}

// ReadyTasks returns the ids that are registered, not completed, and whose
// every dependency is completed. Order follows registration order, which is
// deterministic for a given sequence of AddTask calls.
func (g *Graph) ReadyTasks() []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []task.ID
	for _, id := range g.order {
		if g.completed[id] {
			continue
		}
		if g.allCompletedLocked(g.deps[id]) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) allCompletedLocked(ids []task.ID) bool {
	for _, id := range ids {
		if !g.completed[id] {
			return false
		}
	}
	return true
}

// MarkCompleted records id as completed. It is idempotent and does not
// verify that id's dependencies are satisfied — callers (the scheduler) are
// responsible for only completing tasks they actually ran to success.
func (g *Graph) MarkCompleted(id task.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[id]; !exists {
		return &UnknownTaskError{ID: id}
	}
	g.completed[id] = true
	return nil
}

// Reset empties the completed set. Tasks and edges are untouched, so the
// graph can be re-run from scratch.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = make(map[task.ID]bool)
}

// IsComplete reports whether every registered task has been marked completed.
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.completed) == len(g.tasks)
}

// TopologicalOrder returns a total order over every registered task such that
// every prerequisite precedes its dependents. It walks the graph with a
// white/grey/black DFS; a grey hit means a cycle slipped past AddDependency's
// incremental check, which should never happen if the mutation invariants
// held, and is reported the same way a mutation-time cycle would be.
func (g *Graph) TopologicalOrder() ([]task.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[task.ID]int, len(g.order))
	var out []task.ID

	var visit func(task.ID) error
	visit = func(id task.ID) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return &CycleError{Path: []task.ID{id, id}}
		}
		color[id] = grey
		for _, dep := range g.deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		out = append(out, id)
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get returns the registered task for id.
func (g *Graph) Get(id task.ID) (*task.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, exists := g.tasks[id]
	if !exists {
		return nil, &UnknownTaskError{ID: id}
	}
	return t, nil
}

// Deps returns the ordered, deduplicated prerequisites of id.
func (g *Graph) Deps(id task.ID) ([]task.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, exists := g.tasks[id]; !exists {
		return nil, &UnknownTaskError{ID: id}
	}
	return append([]task.ID{}, g.deps[id]...), nil
}

// Rdeps returns the ordered, deduplicated dependents of id.
func (g *Graph) Rdeps(id task.ID) ([]task.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, exists := g.tasks[id]; !exists {
		return nil, &UnknownTaskError{ID: id}
	}
	return append([]task.ID{}, g.rdeps[id]...), nil
}

// AllTasks returns every registered task id, in registration order.
func (g *Graph) AllTasks() []task.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]task.ID{}, g.order...)
}

func cloneAdjacency(m map[task.ID][]task.ID) map[task.ID][]task.ID {
	out := make(map[task.ID][]task.ID, len(m))
	for k, v := range m {
		out[k] = append([]task.ID{}, v...)
	}
	return out
}

func contains(ids []task.ID, target task.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
