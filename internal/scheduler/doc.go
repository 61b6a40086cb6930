// Package scheduler decides which tasks may start next.
//
// # How It Works
//
// ComputeReady is a pure function over the topology and a copy of the run
// state. A task is eligible when it is Pending and every one of its
// dependencies has Succeeded. Eligible tasks are ordered by descending
// priority; ties keep declaration order, so the result never depends on
// timing or map iteration.
//
// The scheduler never changes a status. The dispatcher takes the returned
// ids and claims them through the node store's compare-and-set, which
// keeps repeated or concurrent evaluation harmless.
package scheduler
