package nodestore

import (
	"errors"
	"reflect"
	"time"

	"github.com/specialistvlad/burstflow/internal/node"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = "1"

// Snapshot is the persisted layout of a workflow run. Together with the
// original task definitions it fully reconstructs the run.
type Snapshot struct {
	Version         string                  `json:"version"`
	RunID           string                  `json:"run_id,omitempty"`
	AggregateStatus AggregateStatus         `json:"aggregate_status"`
	TakenAt         time.Time               `json:"taken_at"`
	Tasks           map[string]TaskSnapshot `json:"tasks"`
}

// TaskSnapshot is the persisted form of a node.State.
type TaskSnapshot struct {
	Status       node.Status `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	Output       any         `json:"output,omitempty"`
	Error        string      `json:"error,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// restoredError carries an error message that came back from a snapshot.
type restoredError struct{ msg string }

func (e *restoredError) Error() string { return e.msg }

// ToSnapshot converts a live state into its persisted form.
func ToSnapshot(st node.State) TaskSnapshot {
	ts := TaskSnapshot{
		Status:       st.Status,
		AttemptCount: st.Attempts,
	}
	if st.Status == node.Succeeded {
		ts.Output = CloneOutput(st.Output)
	}
	if st.Err != nil {
		ts.Error = st.Err.Error()
	}
	if !st.StartedAt.IsZero() {
		at := st.StartedAt
		ts.StartedAt = &at
	}
	if !st.FinishedAt.IsZero() {
		at := st.FinishedAt
		ts.FinishedAt = &at
	}
	return ts
}

// FromSnapshot converts a persisted task back into a live state.
func FromSnapshot(ts TaskSnapshot) node.State {
	st := node.State{
		Status:   ts.Status,
		Attempts: ts.AttemptCount,
		Output:   CloneOutput(ts.Output),
	}
	if ts.Error != "" {
		st.Err = &restoredError{msg: ts.Error}
	}
	if ts.StartedAt != nil {
		st.StartedAt = *ts.StartedAt
	}
	if ts.FinishedAt != nil {
		st.FinishedAt = *ts.FinishedAt
	}
	return st
}

// Validate checks the structural sanity of a snapshot.
func (s Snapshot) Validate() error {
	if s.Tasks == nil {
		return errors.New("snapshot has no task table")
	}
	for id, ts := range s.Tasks {
		if ts.AttemptCount < 0 {
			return errors.New("snapshot task " + id + " has a negative attempt count")
		}
		if ts.Status < node.Pending || ts.Status > node.Cancelled {
			return errors.New("snapshot task " + id + " has an unknown status")
		}
	}
	return nil
}

// CloneOutput deep-copies the maps and slices of a task output, at any
// depth. Pointers, channels and structs reached through them are shared:
// outputs holding those are treated as immutable.
func CloneOutput(v any) any {
	if v == nil {
		return nil
	}
	return cloneValue(reflect.ValueOf(v)).Interface()
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		c := cloneValue(v.Elem())
		out := reflect.New(v.Type()).Elem()
		out.Set(c)
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	default:
		return v
	}
}
