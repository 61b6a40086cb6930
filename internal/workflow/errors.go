package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/burstflow/internal/dag"
	"github.com/specialistvlad/burstflow/internal/executor"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
)

type (
	// GraphError reports an invalid task graph. It is returned by Start and
	// Restore before anything runs.
	GraphError = dag.GraphError
	// TaskExecutionError is the failure of a single attempt.
	TaskExecutionError = executor.TaskExecutionError
	// RetryExhaustedError is recorded on a task whose last allowed attempt
	// failed.
	RetryExhaustedError = retry.RetryExhaustedError
)

var (
	// ErrAlreadyStarted matches an InvalidStateTransitionError returned by
	// Start on a run that has left Idle.
	ErrAlreadyStarted = errors.New("workflow already started")
	// ErrCancelled is returned by Wait for a cancelled run.
	ErrCancelled = errors.New("workflow cancelled")
	// ErrTimedOut is returned by Wait when the workflow timeout cancelled
	// the run. It matches ErrCancelled.
	ErrTimedOut = fmt.Errorf("%w: timeout exceeded", ErrCancelled)
	// ErrSnapshotMismatch is returned by Restore when the snapshot does not
	// describe the same set of tasks as the workflow.
	ErrSnapshotMismatch = errors.New("snapshot does not match workflow tasks")
)

// InvalidStateTransitionError rejects a control operation that is not valid
// in the run's current status. The run is left unchanged.
type InvalidStateTransitionError struct {
	Op   string
	From nodestore.AggregateStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s workflow in status %s", e.Op, e.From)
}

// Is makes a rejected Start match ErrAlreadyStarted.
func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrAlreadyStarted && e.Op == "start" && e.From != nodestore.Idle
}

// WorkflowFailedError is returned by Wait when the run ended Failed. It
// unwraps to the recorded error of every failed task.
type WorkflowFailedError struct {
	Failed []string
	Causes []error
}

func (e *WorkflowFailedError) Error() string {
	return fmt.Sprintf("workflow failed: %d task(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

func (e *WorkflowFailedError) Unwrap() []error { return e.Causes }
