package scheduler

import (
	"context"
	"sort"

	"github.com/specialistvlad/burstflow/internal/graph"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/topologystore"
)

// Scheduler reports the tasks that are ready to be claimed right now.
type Scheduler interface {
	Ready(ctx context.Context) []string
}

// DefaultScheduler evaluates readiness against a graph's current state.
type DefaultScheduler struct {
	g graph.Graph
}

// New creates a scheduler over g.
func New(g graph.Graph) *DefaultScheduler {
	return &DefaultScheduler{g: g}
}

// Ready implements the Scheduler interface.
func (s *DefaultScheduler) Ready(ctx context.Context) []string {
	return ComputeReady(ctx, s.g.Topology(), s.g.States().All(ctx))
}

// ComputeReady returns the eligible task ids in dispatch order.
func ComputeReady(ctx context.Context, topo topologystore.Store, states map[string]node.State) []string {
	type candidate struct {
		id       string
		priority int
		order    int
	}

	var ready []candidate
	for i, def := range topo.Tasks(ctx) {
		st, ok := states[def.ID]
		if !ok || st.Status != node.Pending {
			continue
		}
		if !dependenciesSucceeded(def.Dependencies, states) {
			continue
		}
		ready = append(ready, candidate{id: def.ID, priority: def.Priority, order: i})
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].priority != ready[j].priority {
			return ready[i].priority > ready[j].priority
		}
		return ready[i].order < ready[j].order
	})

	ids := make([]string, len(ready))
	for i, c := range ready {
		ids[i] = c.id
	}
	return ids
}

func dependenciesSucceeded(deps []string, states map[string]node.State) bool {
	for _, dep := range deps {
		if st, ok := states[dep]; !ok || st.Status != node.Succeeded {
			return false
		}
	}
	return true
}
