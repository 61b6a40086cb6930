package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/specialistvlad/burstflow/internal/localexecutor"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

type (
	// Event describes one transition of a run.
	Event = localexecutor.Event
	// Observer receives events, possibly from several goroutines at once.
	// It may read the run through Status, Snapshot or Result but must not
	// call control operations.
	Observer = localexecutor.Observer
	// EventKind classifies an Event.
	EventKind = localexecutor.EventKind
)

// Event kinds, re-exported so callers need not import the dispatcher.
const (
	TaskStarted      = localexecutor.TaskStarted
	TaskSucceeded    = localexecutor.TaskSucceeded
	TaskRetrying     = localexecutor.TaskRetrying
	TaskFailed       = localexecutor.TaskFailed
	TaskCancelled    = localexecutor.TaskCancelled
	AggregateChanged = localexecutor.AggregateChanged
)

// TaskStatus is the read-only view of one task.
type TaskStatus struct {
	Status     node.Status `json:"status"`
	Attempts   int         `json:"attempt_count"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
	Error      string      `json:"error,omitempty"`
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID     string                    `json:"run_id"`
	Aggregate nodestore.AggregateStatus `json:"aggregate_status"`
	Tasks     map[string]TaskStatus     `json:"tasks"`
}

// Result summarises a run.
type Result struct {
	RunID          string                    `json:"run_id"`
	Status         nodestore.AggregateStatus `json:"status"`
	TotalTasks     int                       `json:"total_tasks"`
	CompletedTasks int                       `json:"completed_tasks"`
	FailedTasks    int                       `json:"failed_tasks"`
	CancelledTasks int                       `json:"cancelled_tasks"`
	ExecutionTime  time.Duration             `json:"execution_time"`
	ExecutionOrder []string                  `json:"execution_order"`
	TimedOut       bool                      `json:"timed_out"`
	// Outputs holds a copy of the output of every Succeeded task.
	Outputs        map[string]any            `json:"outputs"`
}

// Status returns the aggregate status and the state of every task. It
// reads the store only and never waits for running attempts.
func (w *Workflow) Status(ctx context.Context) Status {
	runID := w.RunID()

	all := w.states.All(ctx)
	out := Status{
		RunID:     runID,
		Aggregate: w.states.Aggregate(ctx),
		Tasks:     make(map[string]TaskStatus, len(all)),
	}
	for id, st := range all {
		ts := TaskStatus{
			Status:     st.Status,
			Attempts:   st.Attempts,
			StartedAt:  st.StartedAt,
			FinishedAt: st.FinishedAt,
		}
		if st.Err != nil {
			ts.Error = st.Err.Error()
		}
		out.Tasks[id] = ts
	}
	return out
}

// Result returns a summary of the run so far.
func (w *Workflow) Result(ctx context.Context) Result {
	w.meta.Lock()
	runID, startedAt, endedAt, timedOut := w.runID, w.startedAt, w.endedAt, w.timedOut
	w.meta.Unlock()

	res := Result{
		RunID:    runID,
		Status:   w.states.Aggregate(ctx),
		TimedOut: timedOut,
		Outputs:  make(map[string]any),
	}

	type finished struct {
		id    string
		at    time.Time
		order int
	}
	var succeeded []finished
	for i, id := range w.ids {
		st, ok := w.states.Get(ctx, id)
		if !ok {
			continue
		}
		res.TotalTasks++
		switch st.Status {
		case node.Succeeded:
			res.CompletedTasks++
			res.Outputs[id] = nodestore.CloneOutput(st.Output)
			succeeded = append(succeeded, finished{id: id, at: st.FinishedAt, order: i})
		case node.Failed:
			res.FailedTasks++
		case node.Cancelled:
			res.CancelledTasks++
		}
	}

	sort.SliceStable(succeeded, func(i, j int) bool {
		if !succeeded[i].at.Equal(succeeded[j].at) {
			return succeeded[i].at.Before(succeeded[j].at)
		}
		return succeeded[i].order < succeeded[j].order
	})
	res.ExecutionOrder = make([]string, len(succeeded))
	for i, f := range succeeded {
		res.ExecutionOrder[i] = f.id
	}

	switch {
	case startedAt.IsZero():
	case endedAt.IsZero():
		res.ExecutionTime = time.Since(startedAt)
	default:
		res.ExecutionTime = endedAt.Sub(startedAt)
	}
	return res
}
