// Package workflow is the public face of the engine: a Workflow takes a set
// of task definitions and an executor, validates the graph when it starts
// and drives it to a terminal status.
//
// The run is a small state machine over the aggregate status kept in the
// state store:
//
//	Idle → Running ⇄ Paused
//	Running | Paused → Completed | Failed | Cancelled
//
// Control operations (Pause, Resume, Cancel, Status, Snapshot) only touch
// the store and the dispatcher's wake-up channel. None of them waits for an
// executor call to return.
//
// A snapshot taken at any moment can be restored into a fresh Workflow
// built from the same definitions. Resuming a restored run requeues tasks
// that were Ready or Running when the snapshot was taken, since no worker
// or retry timer in this process owns them.
package workflow
