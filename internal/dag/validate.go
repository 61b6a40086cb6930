package dag

import (
	"context"
	"errors"
	"strings"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/inmemorytopology"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/topologystore"
)

// Validate checks that defs form a DAG and returns the resulting topology.
// Declaration order is the order of defs. The input is not modified.
func Validate(ctx context.Context, defs []task.Definition) (topologystore.Store, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Validating task graph.", "task_count", len(defs))

	store := inmemorytopology.New()

	for _, def := range defs {
		if strings.TrimSpace(def.ID) == "" {
			return nil, &GraphError{Kind: KindInvalidID, TaskID: def.ID}
		}
		if err := store.AddTask(ctx, def); err != nil {
			if errors.Is(err, topologystore.ErrTaskExists) {
				return nil, &GraphError{Kind: KindDuplicateID, TaskID: def.ID}
			}
			return nil, err
		}
	}

	for _, def := range defs {
		for _, dep := range def.Dependencies {
			if dep == def.ID {
				return nil, &GraphError{Kind: KindCycle, TaskID: def.ID, Path: []string{def.ID, def.ID}}
			}
			if err := store.AddDependency(ctx, dep, def.ID); err != nil {
				if errors.Is(err, topologystore.ErrTaskNotFound) {
					return nil, &GraphError{Kind: KindUnknownDependency, TaskID: def.ID, Dependency: dep}
				}
				return nil, err
			}
		}
	}

	if err := detectCycles(ctx, store); err != nil {
		return nil, err
	}

	logger.Debug("Task graph is valid.", "task_count", store.Len())
	return store, nil
}

// detectCycles walks dependents depth-first in declaration order. A node
// reached again while it is still on the recursion path closes a cycle.
func detectCycles(ctx context.Context, store topologystore.Store) error {
	permanent := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if onPath[id] {
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), id)
			return &GraphError{Kind: KindCycle, TaskID: id, Path: cycle}
		}

		onPath[id] = true
		path = append(path, id)

		dependents, err := store.DependentsOf(ctx, id)
		if err != nil {
			return err
		}
		for _, next := range dependents {
			if err := visit(next); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		onPath[id] = false
		permanent[id] = true
		return nil
	}

	for _, def := range store.Tasks(ctx) {
		if err := visit(def.ID); err != nil {
			return err
		}
	}
	return nil
}
