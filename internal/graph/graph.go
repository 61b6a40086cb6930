package graph

import (
	"context"
	"sort"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/topologystore"
)

// Manager composes a topology store and a node store.
type Manager struct {
	topology topologystore.Store
	states   nodestore.Store
}

// New creates a new graph manager.
func New(ts topologystore.Store, ns nodestore.Store) *Manager {
	return &Manager{topology: ts, states: ns}
}

var _ Graph = (*Manager)(nil)

func (m *Manager) Topology() topologystore.Store { return m.topology }

func (m *Manager) States() nodestore.Store { return m.states }

// Claim performs the two compare-and-set steps that hand a task to a worker.
func (m *Manager) Claim(ctx context.Context, id string, at time.Time) (task.Definition, node.State, bool) {
	def, ok := m.topology.Task(ctx, id)
	if !ok {
		return task.Definition{}, node.State{}, false
	}
	if !m.states.CompareAndSet(ctx, id, node.Pending, node.Ready) {
		return task.Definition{}, node.State{}, false
	}
	st, ok := m.states.BeginAttempt(ctx, id, at)
	if !ok {
		// Cancelled between the two steps.
		ctxlog.FromContext(ctx).Debug("Task changed while being claimed.", "task", id)
		return task.Definition{}, node.State{}, false
	}
	return def, st, true
}

// Upstream collects dependency outputs for the executor.
func (m *Manager) Upstream(ctx context.Context, id string) (map[string]any, error) {
	deps, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(deps))
	for _, dep := range deps {
		if st, ok := m.states.Get(ctx, dep); ok {
			out[dep] = st.Output
		}
	}
	return out, nil
}

// DescendantsOf walks dependents breadth-first.
func (m *Manager) DescendantsOf(ctx context.Context, id string) ([]string, error) {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var found []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		dependents, err := m.topology.DependentsOf(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			if seen[d] {
				continue
			}
			seen[d] = true
			found = append(found, d)
			queue = append(queue, d)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return m.topology.Order(ctx, found[i]) < m.topology.Order(ctx, found[j])
	})
	return found, nil
}

// Counts tallies the current state of every task.
func (m *Manager) Counts(ctx context.Context) Counts {
	var c Counts
	for _, st := range m.states.All(ctx) {
		c.Total++
		switch st.Status {
		case node.Pending:
			c.Pending++
		case node.Ready:
			c.Ready++
		case node.Running:
			c.Running++
		case node.Succeeded:
			c.Succeeded++
		case node.Failed:
			c.Failed++
		case node.Cancelled:
			c.Cancelled++
		}
	}
	return c
}
