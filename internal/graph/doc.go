// Package graph provides a unified facade over a workflow's two stores: the
// immutable topology (topologystore) and the mutable run state (nodestore).
//
// # Why Graph Package Exists
//
// The dispatcher and the workflow controller constantly need answers that
// combine both stores: "claim this task and give me its definition",
// "collect the outputs of this task's dependencies", "which tasks sit
// downstream of this failure". Graph answers those in one call and keeps
// the two-store split an implementation detail.
//
// Graph adds no state of its own. Every status change still goes through
// the node store's compare-and-set primitives.
package graph
