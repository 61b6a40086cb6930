// Package sleep provides a runner that waits and then succeeds or fails on
// request. It is meant for demos and for exercising retry and timeout
// settings without a real backend.
package sleep

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/registry"
)

// ErrRequested is returned when the task asked to fail.
var ErrRequested = errors.New("failure requested by task arguments")

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the sleep runner.
type Input struct {
	Duration time.Duration `cty:"duration" validate:"gte=0"`
	Fail     bool          `cty:"fail"`
	Result   any           `cty:"result"`
}

// OnRunSleep is the handler for the 'sleep' runner.
func OnRunSleep(ctx context.Context, input *Input, upstream map[string]any) (any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Sleeping.", "duration", input.Duration)

	timer := time.NewTimer(input.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if input.Fail {
		return nil, ErrRequested
	}
	return input.Result, nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("sleep", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunSleep,
	})
}
