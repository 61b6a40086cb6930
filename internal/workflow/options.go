package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
)

const (
	// DefaultMaxConcurrency is the worker pool size when none is given.
	DefaultMaxConcurrency = 4
	// DefaultTimeout bounds a whole run when no timeout is given.
	DefaultTimeout = 15 * time.Minute
	// DefaultTaskTimeout bounds an attempt of a task without its own timeout.
	DefaultTaskTimeout = 5 * time.Minute
)

// FailurePolicy decides what a permanent task failure does to the run.
type FailurePolicy string

const (
	// PolicyHalt stops new dispatch and lets in-flight attempts finish. The
	// run ends Failed and everything that did not run is Cancelled.
	PolicyHalt FailurePolicy = "halt"
	// PolicyCancel is PolicyHalt with in-flight attempts cancelled at once.
	PolicyCancel FailurePolicy = "cancel"
	// PolicyContinue cancels only the failed task's descendants and lets
	// independent branches run to the end.
	PolicyContinue FailurePolicy = "continue"
)

// ParseFailurePolicy converts a configuration value. The empty string is
// PolicyHalt.
func ParseFailurePolicy(v string) (FailurePolicy, error) {
	switch FailurePolicy(v) {
	case "", PolicyHalt:
		return PolicyHalt, nil
	case PolicyCancel, PolicyContinue:
		return FailurePolicy(v), nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", v)
	}
}

type options struct {
	maxConcurrency int
	failurePolicy  FailurePolicy
	retryPolicy    retry.Policy
	timeout        time.Duration
	taskTimeout    time.Duration
	dispatchRate   float64
	dispatchBurst  int
	observer       Observer
	runID          string
	logger         *slog.Logger
	store          nodestore.Store
}

func defaultOptions() options {
	return options{
		maxConcurrency: DefaultMaxConcurrency,
		failurePolicy:  PolicyHalt,
		retryPolicy:    retry.DefaultPolicy(),
		timeout:        DefaultTimeout,
		taskTimeout:    DefaultTaskTimeout,
	}
}

func (o options) validate() error {
	var errs []error
	if o.maxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max concurrency must be at least 1, got %d", o.maxConcurrency))
	}
	if _, err := ParseFailurePolicy(string(o.failurePolicy)); err != nil {
		errs = append(errs, err)
	}
	if err := o.retryPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry policy: %w", err))
	}
	if o.timeout < 0 || o.taskTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

// Option configures a Workflow.
type Option func(*options)

// WithMaxConcurrency bounds how many tasks run at once.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithFailurePolicy selects how a permanent task failure affects the run.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) { o.failurePolicy = p }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.retryPolicy = p }
}

// WithTimeout bounds the wall-clock time of a run. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTaskTimeout sets the attempt timeout of tasks that have none. Zero
// disables it.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *options) { o.taskTimeout = d }
}

// WithDispatchRate limits how many attempts start per second.
func WithDispatchRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.dispatchRate = perSecond
		o.dispatchBurst = burst
	}
}

// WithObserver registers a callback for task and run transitions.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithLogger sets the logger used instead of the one carried by the
// context passed to Start.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStateStore replaces the in-memory state store.
func WithStateStore(s nodestore.Store) Option {
	return func(o *options) { o.store = s }
}
