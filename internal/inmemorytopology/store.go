package inmemorytopology

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/topologystore"
)

// entry is everything known about one task.
type entry struct {
	def        task.Definition
	order      int
	deps       []string
	dependents []string
	depSet     map[string]struct{}
}

// Store implements the topologystore.Store interface using maps and a mutex
// for thread-safe concurrent access.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates a new, empty in-memory topology store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

var _ topologystore.Store = (*Store)(nil)

// AddTask adds a new task to the store.
func (s *Store) AddTask(ctx context.Context, def task.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[def.ID]; exists {
		return fmt.Errorf("%w: %q", topologystore.ErrTaskExists, def.ID)
	}
	s.entries[def.ID] = &entry{
		def:    def.Clone(),
		order:  len(s.order),
		depSet: make(map[string]struct{}),
	}
	s.order = append(s.order, def.ID)
	return nil
}

// AddDependency creates a dependency link from one task to another.
func (s *Store) AddDependency(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromEntry, ok := s.entries[from]
	if !ok {
		return fmt.Errorf("%w: dependency source %q", topologystore.ErrTaskNotFound, from)
	}
	toEntry, ok := s.entries[to]
	if !ok {
		return fmt.Errorf("%w: dependency target %q", topologystore.ErrTaskNotFound, to)
	}

	if _, exists := toEntry.depSet[from]; exists {
		return nil
	}
	toEntry.depSet[from] = struct{}{}
	toEntry.deps = append(toEntry.deps, from)
	fromEntry.dependents = append(fromEntry.dependents, to)
	return nil
}

// Task retrieves a single definition by id.
func (s *Store) Task(ctx context.Context, id string) (task.Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return task.Definition{}, false
	}
	return e.def.Clone(), true
}

// Tasks returns all definitions in declaration order.
func (s *Store) Tasks(ctx context.Context) []task.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]task.Definition, 0, len(s.order))
	for _, id := range s.order {
		defs = append(defs, s.entries[id].def.Clone())
	}
	return defs
}

// Order returns the declaration index of a task.
func (s *Store) Order(ctx context.Context, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[id]; ok {
		return e.order
	}
	return -1
}

// DependenciesOf returns the ids the given task depends on.
func (s *Store) DependenciesOf(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", topologystore.ErrTaskNotFound, id)
	}
	return append([]string{}, e.deps...), nil
}

// DependentsOf returns the ids that depend on the given task.
func (s *Store) DependentsOf(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", topologystore.ErrTaskNotFound, id)
	}
	return append([]string{}, e.dependents...), nil
}

// Len returns the number of tasks in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
