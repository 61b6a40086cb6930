// Package node defines the run-time state of a single task: its status
// enumeration and the record the state store keeps for it.
package node

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the execution state of a task.
type Status int32

const (
	// Pending indicates the task is waiting for dependencies or a new attempt.
	Pending Status = iota
	// Ready indicates the task has been selected but its attempt has not
	// started. A task waiting out a retry delay also sits here.
	Ready
	// Running indicates an attempt is in flight.
	Running
	// Succeeded is terminal: the last attempt returned a result.
	Succeeded
	// Failed is terminal: attempts are exhausted.
	Failed
	// Cancelled is terminal: the task will never run.
	Cancelled
)

var statusNames = [...]string{"Pending", "Ready", "Running", "Succeeded", "Failed", "Cancelled"}

// String returns the canonical name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// ParseStatus is the inverse of Status.String. Matching is case-insensitive.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, v) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// State is the mutable record kept per task. Values are copied out of the
// store; mutating a returned State has no effect on the store.
type State struct {
	Status     Status
	Attempts   int
	Output     any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
