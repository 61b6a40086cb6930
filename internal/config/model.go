package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRunner executes tasks that do not name a runner.
const DefaultRunner = "print"

// Model is the unified, format-agnostic representation of a workflow file.
type Model struct {
	Settings Settings
	// Tasks are kept in declaration order, which breaks priority ties.
	Tasks []*Task
}

// Settings are the workflow-level knobs. Zero values mean "use the default".
type Settings struct {
	Name           string
	MaxConcurrency int
	FailurePolicy  string
	Timeout        time.Duration
	TaskTimeout    time.Duration
	DispatchRate   float64
	DispatchBurst  int
	Retry          Retry
}

// Retry mirrors the retry policy block.
type Retry struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// IsZero reports whether no retry field was set.
func (r Retry) IsZero() bool {
	return r == Retry{}
}

// Task is the format-agnostic representation of one task declaration.
type Task struct {
	ID           string
	Dependencies []string
	Priority     int
	MaxAttempts  int
	Timeout      time.Duration
	Description  string
	// Runner names the registered runner that executes the task.
	Runner    string
	Arguments map[string]any
}

// Merge appends other's tasks to m and overlays any non-zero settings.
// Loading several files merges them in path order.
func (m *Model) Merge(other *Model) {
	if other == nil {
		return
	}
	s, o := &m.Settings, other.Settings
	if o.Name != "" {
		s.Name = o.Name
	}
	if o.MaxConcurrency != 0 {
		s.MaxConcurrency = o.MaxConcurrency
	}
	if o.FailurePolicy != "" {
		s.FailurePolicy = o.FailurePolicy
	}
	if o.Timeout != 0 {
		s.Timeout = o.Timeout
	}
	if o.TaskTimeout != 0 {
		s.TaskTimeout = o.TaskTimeout
	}
	if o.DispatchRate != 0 {
		s.DispatchRate = o.DispatchRate
		s.DispatchBurst = o.DispatchBurst
	}
	if !o.Retry.IsZero() {
		s.Retry = o.Retry
	}
	m.Tasks = append(m.Tasks, other.Tasks...)
}

// Check reports structural problems a loader cannot express in its own
// schema: empty ids and negative numbers. Graph-level validation (unknown
// dependencies, duplicates, cycles) is left to the dag package.
func (m *Model) Check() error {
	var errs []error
	if m.Settings.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max_concurrency must not be negative, got %d", m.Settings.MaxConcurrency))
	}
	for i, t := range m.Tasks {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("task #%d: id is required", i))
			continue
		}
		if t.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("task %q: max_attempts must not be negative", t.ID))
		}
		if t.Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %q: timeout must not be negative", t.ID))
		}
	}
	return errors.Join(errs...)
}
