package inmemorystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
type Store struct {
	mu        sync.RWMutex
	states    map[string]*node.State
	aggregate nodestore.AggregateStatus
	now       func() time.Time
}

// New creates a new, empty in-memory state store.
func New() *Store {
	return &Store{
		states: make(map[string]*node.State),
		now:    time.Now,
	}
}

var _ nodestore.Store = (*Store)(nil)

// Init resets the store to one Pending state per id.
func (s *Store) Init(ctx context.Context, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states = make(map[string]*node.State, len(ids))
	for _, id := range ids {
		s.states[id] = &node.State{Status: node.Pending}
	}
	s.aggregate = nodestore.Idle
}

// Get retrieves a copy of a task's state.
func (s *Store) Get(ctx context.Context, id string) (node.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return node.State{}, false
	}
	return *st, true
}

// All retrieves a copy of every task's state.
func (s *Store) All(ctx context.Context) map[string]node.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]node.State, len(s.states))
	for id, st := range s.states {
		out[id] = *st
	}
	return out
}

// CompareAndSet moves a task between statuses if it is in the expected one.
func (s *Store) CompareAndSet(ctx context.Context, id string, expected, next node.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.Status != expected {
		return false
	}
	st.Status = next
	return true
}

// BeginAttempt claims a Ready task for execution.
func (s *Store) BeginAttempt(ctx context.Context, id string, at time.Time) (node.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.Status != node.Ready {
		return node.State{}, false
	}
	st.Status = node.Running
	st.Attempts++
	st.StartedAt = at
	st.FinishedAt = time.Time{}
	return *st, true
}

// Finish records the outcome of an attempt or a forced terminal transition.
func (s *Store) Finish(ctx context.Context, id string, expected, next node.Status, output any, err error, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.Status != expected {
		return false
	}
	st.Status = next
	st.FinishedAt = at
	if next == node.Succeeded {
		st.Output = output
		st.Err = nil
	} else {
		st.Output = nil
		if err != nil {
			st.Err = err
		}
	}
	return true
}

// RecordOutput stores a task's output.
func (s *Store) RecordOutput(ctx context.Context, id string, output any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return fmt.Errorf("%w: %q", nodestore.ErrUnknownTask, id)
	}
	st.Output = output
	return nil
}

// RecordError stores a task's last error.
func (s *Store) RecordError(ctx context.Context, id string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return fmt.Errorf("%w: %q", nodestore.ErrUnknownTask, id)
	}
	st.Err = err
	return nil
}

// Aggregate returns the workflow-level status.
func (s *Store) Aggregate(ctx context.Context) nodestore.AggregateStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregate
}

// CompareAndSetAggregate moves the workflow-level status.
func (s *Store) CompareAndSetAggregate(ctx context.Context, expected, next nodestore.AggregateStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aggregate != expected {
		return false
	}
	s.aggregate = next
	return true
}

// Snapshot copies every state and the aggregate under a single lock.
func (s *Store) Snapshot(ctx context.Context) nodestore.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := nodestore.Snapshot{
		Version:         nodestore.SnapshotVersion,
		AggregateStatus: s.aggregate,
		TakenAt:         s.now().UTC(),
		Tasks:           make(map[string]nodestore.TaskSnapshot, len(s.states)),
	}
	for id, st := range s.states {
		snap.Tasks[id] = nodestore.ToSnapshot(*st)
	}
	return snap
}

// Restore replaces the store's contents with a snapshot.
func (s *Store) Restore(ctx context.Context, snap nodestore.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	states := make(map[string]*node.State, len(snap.Tasks))
	for id, ts := range snap.Tasks {
		st := nodestore.FromSnapshot(ts)
		states[id] = &st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = states
	s.aggregate = snap.AggregateStatus
	return nil
}
