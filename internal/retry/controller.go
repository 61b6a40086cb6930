package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
)

// RetryExhaustedError is recorded on a task once its attempt bound is
// reached. It is visible through the workflow status, never returned to
// the caller of a control operation.
type RetryExhaustedError struct {
	TaskID   string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("task %q failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Decision is the outcome of OnFailure.
type Decision struct {
	// Retry is true when the task should run again after Delay.
	Retry bool
	Delay time.Duration
	// Err is set to a *RetryExhaustedError when Retry is false.
	Err error
}

// Controller applies a Policy to failed attempts.
type Controller struct {
	policy Policy
}

// NewController creates a controller. The policy must be valid.
func NewController(p Policy) *Controller {
	return &Controller{policy: p}
}

// Policy returns the configured policy.
func (c *Controller) Policy() Policy { return c.policy }

// OnFailure decides between another attempt and permanent failure.
// attempts is the number of attempts started so far, including the one
// that just failed; maxAttempts is the task's own bound, 0 for the default.
func (c *Controller) OnFailure(ctx context.Context, taskID string, attempts, maxAttempts int, err error) Decision {
	limit := c.policy.AttemptsFor(maxAttempts)
	logger := ctxlog.FromContext(ctx).With("task", taskID, "attempt", attempts, "max_attempts", limit)

	if attempts < limit {
		d := c.policy.Delay(attempts)
		logger.Debug("Scheduling retry.", "delay", d, "error", err)
		return Decision{Retry: true, Delay: d}
	}

	logger.Debug("Retries exhausted.", "error", err)
	return Decision{Err: &RetryExhaustedError{TaskID: taskID, Attempts: attempts, Last: err}}
}
