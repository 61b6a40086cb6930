// Package topologystore defines the interface for storing and retrieving the
// static structure of a workflow's dependency graph.
//
// # Why Topology Store Exists
//
// The topology store isolates the **immutable DAG structure** (task
// definitions and their dependency edges) from the **mutable run state**
// (status, attempts, outputs) managed by nodestore. The structure is
// validated once, before a run starts, and never changes afterwards, so
// readers never contend with the frequent writes of the dispatcher.
//
// # Lifecycle and Usage
//
//  1. **Populated** by dag.Validate (tasks in declaration order, then edges)
//  2. **Validated** for cycles while still private to the validator
//  3. **Read-only** for the rest of the run: the selector asks for
//     dependencies, the dispatcher asks for definitions and dependents
package topologystore

import (
	"context"
	"errors"

	"github.com/specialistvlad/burstflow/internal/task"
)

var (
	// ErrTaskExists is returned by AddTask when the id is already present.
	ErrTaskExists = errors.New("task already exists")
	// ErrTaskNotFound is returned when an id is not present in the topology.
	ErrTaskNotFound = errors.New("task not found")
)

// Store is the interface for the static topology of a workflow DAG.
//
// Implementations MUST be safe for concurrent reads. Writes only happen
// during construction.
type Store interface {
	// AddTask registers a task. Declaration order is the order of AddTask
	// calls. Adding an id twice returns ErrTaskExists.
	AddTask(ctx context.Context, def task.Definition) error

	// AddDependency records that 'to' depends on 'from'. Both tasks must
	// already exist, otherwise ErrTaskNotFound is returned. Adding the same
	// edge twice is a no-op.
	AddDependency(ctx context.Context, from, to string) error

	// Task returns the definition registered under id.
	Task(ctx context.Context, id string) (task.Definition, bool)

	// Tasks returns every definition in declaration order.
	Tasks(ctx context.Context) []task.Definition

	// Order returns the declaration index of id, or -1 if it is unknown.
	Order(ctx context.Context, id string) int

	// DependenciesOf returns the direct dependencies of id in the order they
	// were declared.
	DependenciesOf(ctx context.Context, id string) ([]string, error)

	// DependentsOf returns the tasks that directly depend on id, in
	// declaration order of the dependents.
	DependentsOf(ctx context.Context, id string) ([]string, error)

	// Len returns the number of tasks.
	Len() int
}
