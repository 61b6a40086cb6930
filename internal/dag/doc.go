// Package dag validates a set of task definitions and turns them into an
// immutable topology.
//
// Validation runs exactly once, before a workflow starts. It rejects empty
// or duplicate ids, dependencies on unknown tasks, and cycles. A successful
// result is a topologystore.Store that exposes both edge directions: the
// dependencies of a task and the dependents that need re-evaluation when
// it finishes.
package dag
