package registry

import (
	"context"
	"fmt"
	"reflect"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/ctyconv"
)

// Invocation is the task payload the registry understands: the runner to
// call and the raw arguments for it.
type Invocation struct {
	Runner    string         `json:"runner"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Execute implements executor.Executor. payload must be an Invocation or a
// pointer to one.
func (r *Registry) Execute(ctx context.Context, payload any, upstream map[string]any) (any, error) {
	var inv Invocation
	switch p := payload.(type) {
	case Invocation:
		inv = p
	case *Invocation:
		if p == nil {
			return nil, fmt.Errorf("nil invocation payload")
		}
		inv = *p
	default:
		return nil, fmt.Errorf("unsupported payload type %T, want registry.Invocation", payload)
	}

	rn, err := r.lookup(inv.Runner)
	if err != nil {
		return nil, err
	}
	input, err := r.decodeInput(ctx, rn, inv)
	if err != nil {
		return nil, err
	}
	if upstream == nil {
		upstream = map[string]any{}
	}

	ctxlog.FromContext(ctx).Debug("Invoking runner.", "runner", inv.Runner, "upstream", len(upstream))
	out := rn.fn.Call([]reflect.Value{
		reflect.ValueOf(ctx),
		input,
		reflect.ValueOf(upstream),
	})
	if errVal := out[1]; !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	result := out[0]
	if (result.Kind() == reflect.Pointer || result.Kind() == reflect.Interface || result.Kind() == reflect.Map) && result.IsNil() {
		return nil, nil
	}
	return result.Interface(), nil
}

// decodeInput turns raw arguments into the value passed as the runner's
// input parameter.
func (r *Registry) decodeInput(ctx context.Context, rn *RegisteredRunner, inv Invocation) (reflect.Value, error) {
	if rn.NewInput == nil {
		args := inv.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return reflect.ValueOf(args), nil
	}

	input := rn.NewInput()
	val, err := ctyconv.FromNative(inv.Arguments)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: runner '%s': %v", ErrInvalidArguments, inv.Runner, err)
	}
	if err := ctyconv.Decode(ctx, val, input); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: runner '%s': %v", ErrInvalidArguments, inv.Runner, err)
	}
	if err := r.validate.StructCtx(ctx, input); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: runner '%s': %v", ErrInvalidArguments, inv.Runner, err)
	}
	return reflect.ValueOf(input), nil
}
