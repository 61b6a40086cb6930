// Package retry decides what happens after a failed attempt and owns the
// timers that bring a task back after its backoff delay.
//
// The delay after attempt n is base * multiplier^(n-1), capped at the
// policy's maximum. Waiting never occupies a worker: the dispatcher frees
// its slot, parks the task, and a Timers entry moves it back to Pending
// when the delay elapses. Timers can be stopped all at once when a
// workflow is cancelled or halted.
package retry
