// Package cliapp wires the engine (graph + scheduler + adaptive controller)
// into the one demo command this repository ships, cmd/taskflowd. None of
// this package is part of the core engine contract — CLI/configuration glue
// is an external collaborator per the purpose and scope.
package cliapp

import (
	"encoding/json"
	"fmt"
	"os"

	"taskflow/internal/graph"
	"taskflow/internal/shelltask"
	"taskflow/internal/task"
)

type graphFileTask struct {
	ID        string            `json:"id"`
	Run       string            `json:"run"`
	Dir       string            `json:"dir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	DependsOn []string          `json:"dependsOn,omitempty"`
}

type graphFile struct {
	Tasks []graphFileTask `json:"tasks"`
}

// LoadGraphFromFile reads a JSON task-graph description and builds a
// graph.Graph whose tasks run the declared shell commands. Unknown fields
// and trailing data are rejected so a malformed file fails fast instead of
// silently ignoring typos.
func LoadGraphFromFile(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var gf graphFile
	if err := dec.Decode(&gf); err != nil {
		return nil, fmt.Errorf("decode graph file: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode graph file: trailing data after the JSON document")
	}

	g := graph.New()
	for _, t := range gf.Tasks {
		fn := shelltask.New(shelltask.Spec{Run: t.Run, Dir: t.Dir, Env: t.Env})
		if _, err := g.AddTask(task.ID(t.ID), fn); err != nil {
			return nil, fmt.Errorf("register task %q: %w", t.ID, err)
		}
	}
	for _, t := range gf.Tasks {
		if len(t.DependsOn) == 0 {
			continue
		}
		deps := make([]task.ID, len(t.DependsOn))
		for i, d := range t.DependsOn {
			deps[i] = task.ID(d)
		}
		if err := g.AddDependency(task.ID(t.ID), deps...); err != nil {
			return nil, fmt.Errorf("wire dependencies for %q: %w", t.ID, err)
		}
	}
	return g, nil
}
