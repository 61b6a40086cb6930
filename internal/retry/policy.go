package retry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures retries for a whole workflow.
type Policy struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64
	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration
	// MaxAttempts applies to tasks that do not set their own bound.
	MaxAttempts int
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}
}

// Validate reports a policy that cannot produce sensible delays.
func (p Policy) Validate() error {
	var errs []error
	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier))
	}
	if p.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("max delay must not be negative, got %s", p.MaxDelay))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts))
	}
	return errors.Join(errs...)
}

// AttemptsFor resolves the attempt bound for a task, falling back to the
// policy default when the task leaves it unset.
func (p Policy) AttemptsFor(taskMax int) int {
	if taskMax > 0 {
		return taskMax
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// Delay returns the wait that follows the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
