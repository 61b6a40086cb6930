package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph is matched by every GraphError via errors.Is.
var ErrInvalidGraph = errors.New("invalid task graph")

// Kind classifies a validation failure.
type Kind int

const (
	// KindInvalidID is an empty or malformed task id.
	KindInvalidID Kind = iota + 1
	// KindDuplicateID is a task id declared more than once.
	KindDuplicateID
	// KindUnknownDependency is a dependency on an id that was never declared.
	KindUnknownDependency
	// KindCycle is a dependency cycle, including a task depending on itself.
	KindCycle
)

func (k Kind) String() string {
	switch k {
	case KindInvalidID:
		return "invalid id"
	case KindDuplicateID:
		return "duplicate id"
	case KindUnknownDependency:
		return "unknown dependency"
	case KindCycle:
		return "cycle"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// GraphError reports why a task set is not a valid DAG. It is fatal: a
// workflow whose graph fails validation never starts.
type GraphError struct {
	Kind Kind
	// TaskID is the task the problem was found on.
	TaskID string
	// Dependency is the unresolved reference for KindUnknownDependency.
	Dependency string
	// Path is the cycle, first element repeated at the end, for KindCycle.
	Path []string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case KindInvalidID:
		return fmt.Sprintf("%s: invalid task id %q", ErrInvalidGraph, e.TaskID)
	case KindDuplicateID:
		return fmt.Sprintf("%s: duplicate task id %q", ErrInvalidGraph, e.TaskID)
	case KindUnknownDependency:
		return fmt.Sprintf("%s: task %q depends on unknown task %q", ErrInvalidGraph, e.TaskID, e.Dependency)
	case KindCycle:
		return fmt.Sprintf("%s: cycle detected: %s", ErrInvalidGraph, strings.Join(e.Path, " -> "))
	default:
		return ErrInvalidGraph.Error()
	}
}

// Is lets errors.Is(err, ErrInvalidGraph) match any GraphError.
func (e *GraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}
