// Package localexecutor is the in-process worker pool of the engine.
//
// A Dispatcher owns one workflow run's dispatch loop. Each time it is woken
// it asks the scheduler for ready tasks and, while the run is Running and
// free capacity remains, claims them through the node store and hands each
// to the executor on its own goroutine. Capacity is a weighted semaphore
// sized by MaxConcurrency; an optional token bucket throttles how fast new
// attempts start.
//
// Completion goes back through compare-and-set: a success moves the task
// Running→Succeeded, a failure is passed to the retry controller. Retries
// free the worker slot first and then park the task behind a timer. A
// permanent failure is reported to the Supervisor, which applies the
// workflow's failure policy.
//
// The loop never blocks control operations. Pause, resume and cancel only
// change the aggregate status in the store and wake the loop.
package localexecutor
