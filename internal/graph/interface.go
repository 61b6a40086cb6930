package graph

import (
	"context"
	"time"

	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/topologystore"
)

// Graph is the execution view of a single workflow run.
//
// Implementations MUST be safe for concurrent use.
type Graph interface {
	// Topology returns the immutable structure.
	Topology() topologystore.Store

	// States returns the run-state store.
	States() nodestore.Store

	// Claim moves id Pending→Ready→Running, counting a new attempt.
	// It returns false when another party changed the task first.
	Claim(ctx context.Context, id string, at time.Time) (task.Definition, node.State, bool)

	// Upstream returns the outputs of id's direct dependencies keyed by id.
	Upstream(ctx context.Context, id string) (map[string]any, error)

	// DescendantsOf returns every task that transitively depends on id, in
	// declaration order.
	DescendantsOf(ctx context.Context, id string) ([]string, error)

	// Counts tallies tasks by status.
	Counts(ctx context.Context) Counts
}

// Counts is a per-status tally of a run.
type Counts struct {
	Total     int
	Pending   int
	Ready     int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}

// Terminal reports whether every task has reached a terminal status.
func (c Counts) Terminal() bool {
	return c.Succeeded+c.Failed+c.Cancelled == c.Total
}
