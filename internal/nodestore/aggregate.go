package nodestore

import (
	"fmt"
	"strings"
)

// AggregateStatus is the overall state of a workflow run.
type AggregateStatus int32

const (
	Idle AggregateStatus = iota
	Running
	Paused
	Completed
	Failed
	Cancelled
)

var aggregateNames = [...]string{"Idle", "Running", "Paused", "Completed", "Failed", "Cancelled"}

func (s AggregateStatus) String() string {
	if s < 0 || int(s) >= len(aggregateNames) {
		return fmt.Sprintf("AggregateStatus(%d)", int32(s))
	}
	return aggregateNames[s]
}

// Terminal reports whether the run can no longer change.
func (s AggregateStatus) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// ParseAggregateStatus is the inverse of AggregateStatus.String.
func ParseAggregateStatus(v string) (AggregateStatus, error) {
	for i, name := range aggregateNames {
		if strings.EqualFold(name, v) {
			return AggregateStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown aggregate status %q", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s AggregateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AggregateStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseAggregateStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
