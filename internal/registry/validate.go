package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

var (
	// ErrUnknownRunner is returned when a task names a runner nobody registered.
	ErrUnknownRunner = errors.New("unknown runner")
	// ErrInvalidArguments is returned when a task's arguments do not fit the
	// runner's input struct.
	ErrInvalidArguments = errors.New("invalid runner arguments")
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	argsType     = reflect.TypeOf((map[string]any)(nil))
	ctyValueType = reflect.TypeOf(cty.Value{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// ValidateRegistry checks every runner's function signature against its
// input struct and makes sure each `cty`-tagged field has a decodable type.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, name := range r.Names() {
		rn := r.runners[name]
		errs = append(errs, checkSignature(name, rn)...)
		if rn.NewInput == nil {
			continue
		}
		inputType := reflect.TypeOf(rn.NewInput()).Elem()
		seen := make(map[string]string)
		for i := 0; i < inputType.NumField(); i++ {
			field := inputType.Field(i)
			tag := strings.Split(field.Tag.Get("cty"), ",")[0]
			if !field.IsExported() || tag == "" || tag == "-" {
				continue
			}
			if prev, dup := seen[tag]; dup {
				errs = append(errs, fmt.Sprintf("runner '%s': fields '%s' and '%s' share argument name '%s'", name, prev, field.Name, tag))
			}
			seen[tag] = field.Name

			if err := checkFieldType(field.Type); err != nil {
				errs = append(errs, fmt.Sprintf("runner '%s', argument '%s': %v", name, tag, err))
			}
		}
		logger.Debug("Runner validated.", "runner", name, "arguments", len(seen))
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func checkSignature(name string, rn *RegisteredRunner) []string {
	fail := func(format string, args ...any) []string {
		return []string{fmt.Sprintf("runner '%s': "+format, append([]any{name}, args...)...)}
	}
	if !rn.fn.IsValid() || rn.fn.Kind() != reflect.Func {
		return fail("Fn must be a function, got %T", rn.Fn)
	}
	ft := rn.fn.Type()
	if ft.NumIn() != 3 || ft.NumOut() != 2 {
		return fail("Fn must take (ctx, input, upstream) and return (output, error), got %s", ft)
	}
	if ft.In(0) != contextType {
		return fail("first parameter must be context.Context, got %s", ft.In(0))
	}
	if ft.In(2) != argsType {
		return fail("third parameter must be map[string]any, got %s", ft.In(2))
	}
	if ft.Out(1) != errorType {
		return fail("second result must be error, got %s", ft.Out(1))
	}

	if rn.NewInput == nil {
		if ft.In(1) != argsType {
			return fail("runner without NewInput must take map[string]any arguments, got %s", ft.In(1))
		}
		return nil
	}
	in := reflect.TypeOf(rn.NewInput())
	if in == nil || in.Kind() != reflect.Pointer || in.Elem().Kind() != reflect.Struct {
		return fail("NewInput must return a pointer to a struct, got %v", in)
	}
	if ft.In(1) != in {
		return fail("input parameter %s does not match NewInput type %s", ft.In(1), in)
	}
	return nil
}

func checkFieldType(t reflect.Type) error {
	switch {
	case t == ctyValueType, t == durationType, t == argsType, t.Kind() == reflect.Interface:
		return nil
	case t.Kind() == reflect.Pointer:
		return checkFieldType(t.Elem())
	case t.Kind() == reflect.Slice:
		return checkFieldType(t.Elem())
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String:
		return checkFieldType(t.Elem())
	case t.Kind() == reflect.Struct:
		return nil
	}
	if _, err := gocty.ImpliedType(reflect.Zero(t).Interface()); err != nil {
		return fmt.Errorf("could not imply cty type from Go type %s: %w", t, err)
	}
	return nil
}

// CheckInvocation reports whether inv names a registered runner and carries
// arguments its input struct accepts, without running anything.
func (r *Registry) CheckInvocation(ctx context.Context, inv Invocation) error {
	rn, err := r.lookup(inv.Runner)
	if err != nil {
		return err
	}
	if rn.NewInput == nil {
		return nil
	}
	if unknown := unknownArguments(inv.Arguments, reflect.TypeOf(rn.NewInput()).Elem()); len(unknown) > 0 {
		return fmt.Errorf("%w: runner '%s' does not accept %s", ErrInvalidArguments, inv.Runner, strings.Join(unknown, ", "))
	}
	_, err = r.decodeInput(ctx, rn, inv)
	return err
}

// unknownArguments lists argument names that no `cty` tag on t claims.
func unknownArguments(args map[string]any, t reflect.Type) []string {
	known := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		known[strings.Split(t.Field(i).Tag.Get("cty"), ",")[0]] = struct{}{}
	}
	var unknown []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
