// Package env_vars provides a runner that exposes the process environment
// to downstream tasks.
package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/specialistvlad/burstflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the env_vars runner.
type Input struct {
	// Prefix keeps only variables whose name starts with it.
	Prefix string `cty:"prefix"`
	// StripPrefix removes Prefix from the returned names.
	StripPrefix bool `cty:"strip_prefix"`
}

// Output defines the data structure returned by the runner.
type Output struct {
	All map[string]string `json:"all"`
}

// OnRunEnvVars is the handler for the 'env_vars' runner.
func OnRunEnvVars(ctx context.Context, input *Input, upstream map[string]any) (*Output, error) {
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], input.Prefix) {
			continue
		}
		name := pair[0]
		if input.StripPrefix {
			name = strings.TrimPrefix(name, input.Prefix)
		}
		envMap[name] = pair[1]
	}

	return &Output{All: envMap}, nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("env_vars", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunEnvVars,
	})
}
