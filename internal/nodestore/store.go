// Package nodestore defines the interface for storing and retrieving the
// mutable run state of tasks during workflow execution.
//
// # Why Node Store Exists
//
// The node store isolates **mutable run state** (status, attempts, outputs,
// errors, timestamps) from the **immutable DAG structure** managed by
// topologystore. It is the single source of truth every other component
// reads from, and the only shared mutable object in the engine.
//
// # Mutation Discipline
//
// Status changes go exclusively through compare-and-set style operations
// (CompareAndSet, BeginAttempt, Finish). A caller states the status it
// expects; if another goroutine got there first the call returns false and
// changes nothing. This is what keeps two workers from claiming the same
// task and what makes late results from cancelled attempts harmless.
//
// # Snapshots
//
// Snapshot produces a deep, consistent copy of every task state plus the
// aggregate status. Restore is its exact inverse. Together they back
// pause/resume across process restarts.
package nodestore

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/burstflow/internal/node"
)

// ErrUnknownTask is returned when an id has no state in the store.
var ErrUnknownTask = errors.New("unknown task")

// Store is the interface for the mutable run state of a workflow.
//
// Implementations MUST be safe for concurrent use. Every method operates
// atomically with respect to the others.
type Store interface {
	// Init creates a Pending state for every id, discarding existing states.
	// The aggregate status is reset to Idle.
	Init(ctx context.Context, ids []string)

	// Get returns a copy of the state of id.
	Get(ctx context.Context, id string) (node.State, bool)

	// All returns a copy of every task state keyed by id.
	All(ctx context.Context) map[string]node.State

	// CompareAndSet moves id from expected to next. It returns false and
	// makes no change if the current status differs or id is unknown.
	CompareAndSet(ctx context.Context, id string, expected, next node.Status) bool

	// BeginAttempt atomically moves id from Ready to Running, increments its
	// attempt count and stamps StartedAt. FinishedAt is cleared.
	BeginAttempt(ctx context.Context, id string, at time.Time) (node.State, bool)

	// Finish atomically moves id from expected to next, stamps FinishedAt
	// and records output and err. Output is kept only when next is
	// Succeeded; err is cleared on success.
	Finish(ctx context.Context, id string, expected, next node.Status, output any, err error, at time.Time) bool

	// RecordOutput stores the output of id without changing its status.
	RecordOutput(ctx context.Context, id string, output any) error

	// RecordError stores the last error of id without changing its status.
	RecordError(ctx context.Context, id string, err error) error

	// Aggregate returns the workflow-level status.
	Aggregate(ctx context.Context) AggregateStatus

	// CompareAndSetAggregate moves the aggregate status from expected to next.
	CompareAndSetAggregate(ctx context.Context, expected, next AggregateStatus) bool

	// Snapshot returns a consistent copy of the whole store.
	Snapshot(ctx context.Context) Snapshot

	// Restore replaces the whole store with the contents of snap.
	Restore(ctx context.Context, snap Snapshot) error
}
