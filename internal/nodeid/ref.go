package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
)

// refRegex matches `name` or `name[index]`.
var refRegex = regexp.MustCompile(`^([a-zA-Z0-9_.:/-]+)(?:\[(\d+)\])?$`)

// Ref is the structured form of a task reference.
type Ref struct {
	Name  string
	Index int // -1 indicates no index is present.
}

// New creates a reference without an index.
func New(name string) Ref {
	return Ref{Name: name, Index: -1}
}

// Indexed creates a reference to one instance of a fanned-out task.
func Indexed(name string, index int) Ref {
	return Ref{Name: name, Index: index}
}

// HasIndex returns true if the reference names a single instance.
func (r Ref) HasIndex() bool {
	return r.Index >= 0
}

// String serializes the reference into its canonical form.
func (r Ref) String() string {
	if !r.HasIndex() {
		return r.Name
	}
	return r.Name + "[" + strconv.Itoa(r.Index) + "]"
}

// isValidName rejects names that are technically matched but meaningless.
func isValidName(name string) bool {
	switch name {
	case ".", "..", "-":
		return false
	}
	return true
}

// Parse creates a Ref from its canonical string representation.
func Parse(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("task reference cannot be empty")
	}

	matches := refRegex.FindStringSubmatch(raw)
	if matches == nil {
		return Ref{}, fmt.Errorf("invalid task reference format: %q", raw)
	}
	if !isValidName(matches[1]) {
		return Ref{}, fmt.Errorf("invalid task name: %q", matches[1])
	}

	ref := New(matches[1])
	if matches[2] != "" {
		index, err := strconv.Atoi(matches[2])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid index in %q: %w", raw, err)
		}
		ref.Index = index
	}
	return ref, nil
}
