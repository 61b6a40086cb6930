// Package task holds the immutable description of a unit of work as it is
// supplied to the engine.
package task

import "time"

// Definition describes one vertex of a workflow. Definitions are immutable
// once handed to the engine; the engine never inspects Payload.
type Definition struct {
	// ID is unique within a workflow.
	ID string
	// Dependencies lists ids that must reach Succeeded before this task
	// becomes eligible.
	Dependencies []string
	// Priority orders simultaneously eligible tasks, higher first.
	Priority int
	// MaxAttempts bounds how many times the task may be attempted.
	// Zero means the workflow's retry policy decides.
	MaxAttempts int
	// Timeout bounds a single attempt. Zero means the workflow default.
	Timeout time.Duration
	// Description is free text carried into logs and status views.
	Description string
	// Payload is passed verbatim to the executor.
	Payload any
}

// Clone returns a copy whose Dependencies slice is not shared with d.
func (d Definition) Clone() Definition {
	c := d
	if d.Dependencies != nil {
		c.Dependencies = append([]string(nil), d.Dependencies...)
	}
	return c
}
