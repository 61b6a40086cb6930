package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/executor"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds all the registered runners for a single application instance.
//
// Registration happens during startup only. After that the registry is
// read-only and safe for concurrent use.
type Registry struct {
	runners  map[string]*RegisteredRunner
	validate *validator.Validate
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		runners:  make(map[string]*RegisteredRunner),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ executor.Executor = (*Registry)(nil)

// RegisterModules lets every module register its runners, in order.
func (r *Registry) RegisterModules(ctx context.Context, modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
	ctxlog.FromContext(ctx).Debug("Modules registered.", "modules", len(modules), "runners", len(r.runners))
}

// Runner returns the runner registered under name.
func (r *Registry) Runner(name string) (*RegisteredRunner, bool) {
	rn, ok := r.runners[name]
	return rn, ok
}

// Names returns the registered runner names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*RegisteredRunner, error) {
	rn, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownRunner, name, r.Names())
	}
	return rn, nil
}
