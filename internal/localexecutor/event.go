package localexecutor

import (
	"time"

	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

// EventKind classifies an Event.
type EventKind int

const (
	// TaskStarted is emitted after a task was claimed and its attempt began.
	TaskStarted EventKind = iota + 1
	// TaskSucceeded is emitted after a successful attempt was recorded.
	TaskSucceeded
	// TaskRetrying is emitted when a failed attempt will be retried.
	TaskRetrying
	// TaskFailed is emitted when a task failed permanently.
	TaskFailed
	// TaskCancelled is emitted when a task will never run again.
	TaskCancelled
	// AggregateChanged is emitted when the workflow status changes.
	AggregateChanged
)

func (k EventKind) String() string {
	switch k {
	case TaskStarted:
		return "task_started"
	case TaskSucceeded:
		return "task_succeeded"
	case TaskRetrying:
		return "task_retrying"
	case TaskFailed:
		return "task_failed"
	case TaskCancelled:
		return "task_cancelled"
	case AggregateChanged:
		return "aggregate_changed"
	default:
		return "unknown"
	}
}

// Event describes one state transition of a run.
type Event struct {
	Kind      EventKind
	TaskID    string
	Attempt   int
	Status    node.Status
	Aggregate nodestore.AggregateStatus
	Delay     time.Duration
	Err       error
	At        time.Time
}

// Observer receives events. It may be called from several goroutines at
// once and must not block for long.
type Observer func(Event)
