package registry

import (
	"fmt"
	"log/slog"
	"reflect"
)

// RegisteredRunner holds the compiled Go parts of a runner.
//
// Fn must have the shape
//
//	func(ctx context.Context, input *Input, upstream map[string]any) (Output, error)
//
// where *Input is the type NewInput returns. A runner without NewInput
// receives the raw arguments instead, as map[string]any.
type RegisteredRunner struct {
	NewInput func() any
	Fn       any

	fn reflect.Value
}

// RegisterRunner registers a Go function under a runner name.
func (r *Registry) RegisterRunner(name string, runner *RegisteredRunner) {
	if _, exists := r.runners[name]; exists {
		panic(fmt.Sprintf("runner with name '%s' already registered", name))
	}
	slog.Debug("Registering runner.", "name", name)
	runner.fn = reflect.ValueOf(runner.Fn)
	r.runners[name] = runner
}
