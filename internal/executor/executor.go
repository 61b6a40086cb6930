// Package executor defines the collaborator that performs a task's actual
// work. The engine treats it as opaque: it hands over the payload and the
// outputs of the task's dependencies and gets back a result or an error.
package executor

import (
	"context"
	"fmt"
)

// Executor runs one attempt of a task.
//
// Execute is called once per attempt and must be safe to call concurrently
// for different tasks. It should honor ctx: the engine cancels it on
// timeout, on workflow cancellation and under the cancel failure policy.
// An executor that ignores ctx is not force-stopped, but its result is
// discarded once the task has moved on.
type Executor interface {
	Execute(ctx context.Context, payload any, upstream map[string]any) (any, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, payload any, upstream map[string]any) (any, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, payload any, upstream map[string]any) (any, error) {
	return f(ctx, payload, upstream)
}

// TaskExecutionError is the failure of a single attempt. It is always
// routed through the retry controller and never surfaced directly to the
// workflow's caller.
type TaskExecutionError struct {
	TaskID  string
	Attempt int
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q attempt %d: %v", e.TaskID, e.Attempt, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
