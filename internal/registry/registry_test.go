package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/burstflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name  string        `cty:"name" validate:"required"`
	Times int           `cty:"times"`
	Delay time.Duration `cty:"delay"`
}

type chanInput struct {
	Ch chan int `cty:"ch"`
}

type greetModule struct{}

func (greetModule) Register(r *Registry) {
	r.RegisterRunner("greet", &RegisteredRunner{
		NewInput: func() any { return &greetInput{Times: 1} },
		Fn: func(ctx context.Context, in *greetInput, upstream map[string]any) (map[string]any, error) {
			return map[string]any{
				"greeting": in.Name,
				"times":    in.Times,
				"delay":    in.Delay,
				"upstream": len(upstream),
			}, nil
		},
	})
	r.RegisterRunner("echo", &RegisteredRunner{
		Fn: func(ctx context.Context, args map[string]any, upstream map[string]any) (map[string]any, error) {
			return args, nil
		},
	})
	r.RegisterRunner("boom", &RegisteredRunner{
		Fn: func(ctx context.Context, args map[string]any, upstream map[string]any) (*struct{}, error) {
			return nil, errors.New("boom")
		},
	})
}

func newRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	ctx, _ := testutil.Context(t)
	r := New()
	r.RegisterModules(ctx, greetModule{})
	require.NoError(t, r.ValidateRegistry(ctx))
	return r, ctx
}

func TestRegistry_Execute(t *testing.T) {
	t.Parallel()

	t.Run("decodes arguments into the input struct", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		out, err := r.Execute(ctx, Invocation{
			Runner:    "greet",
			Arguments: map[string]any{"name": "ada", "delay": "2s"},
		}, map[string]any{"up": 1})

		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"greeting": "ada",
			"times":    1,
			"delay":    2 * time.Second,
			"upstream": 1,
		}, out)
	})

	t.Run("raw arguments without NewInput", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		out, err := r.Execute(ctx, &Invocation{Runner: "echo", Arguments: map[string]any{"k": "v"}}, nil)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": "v"}, out)
	})

	t.Run("runner error is returned", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		out, err := r.Execute(ctx, Invocation{Runner: "boom"}, nil)

		require.EqualError(t, err, "boom")
		assert.Nil(t, out)
	})

	t.Run("missing required argument", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		_, err := r.Execute(ctx, Invocation{Runner: "greet"}, nil)

		require.ErrorIs(t, err, ErrInvalidArguments)
		assert.Contains(t, err.Error(), "Name")
	})

	t.Run("unknown runner", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		_, err := r.Execute(ctx, Invocation{Runner: "nope"}, nil)

		require.ErrorIs(t, err, ErrUnknownRunner)
	})

	t.Run("foreign payload", func(t *testing.T) {
		t.Parallel()
		r, ctx := newRegistry(t)

		_, err := r.Execute(ctx, "not an invocation", nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported payload type string")
	})
}

func TestRegistry_CheckInvocation(t *testing.T) {
	t.Parallel()
	r, ctx := newRegistry(t)

	assert.NoError(t, r.CheckInvocation(ctx, Invocation{Runner: "greet", Arguments: map[string]any{"name": "x"}}))
	assert.NoError(t, r.CheckInvocation(ctx, Invocation{Runner: "echo", Arguments: map[string]any{"anything": true}}))

	err := r.CheckInvocation(ctx, Invocation{Runner: "greet", Arguments: map[string]any{"name": "x", "colour": "red"}})
	require.ErrorIs(t, err, ErrInvalidArguments)
	assert.Contains(t, err.Error(), "colour")

	err = r.CheckInvocation(ctx, Invocation{Runner: "greet", Arguments: map[string]any{"name": "x", "times": "many"}})
	require.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRegistry_ValidateRegistry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		runner  *RegisteredRunner
		wantErr string
	}{
		{
			name:    "not a function",
			runner:  &RegisteredRunner{Fn: 42},
			wantErr: "Fn must be a function",
		},
		{
			name: "missing context",
			runner: &RegisteredRunner{Fn: func(a, b, c map[string]any) (any, error) {
				return nil, nil
			}},
			wantErr: "first parameter must be context.Context",
		},
		{
			name: "input type mismatch",
			runner: &RegisteredRunner{
				NewInput: func() any { return &greetInput{} },
				Fn: func(ctx context.Context, in *struct{}, up map[string]any) (any, error) {
					return nil, nil
				},
			},
			wantErr: "does not match NewInput type",
		},
		{
			name: "undecodable field",
			runner: &RegisteredRunner{
				NewInput: func() any { return &chanInput{} },
				Fn: func(ctx context.Context, in *chanInput, up map[string]any) (any, error) {
					return nil, nil
				},
			},
			wantErr: "argument 'ch'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, _ := testutil.Context(t)
			r := New()
			r.RegisterRunner("bad", tc.runner)

			err := r.ValidateRegistry(ctx)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()
	r := New()
	r.RegisterRunner("x", &RegisteredRunner{Fn: func(context.Context, map[string]any, map[string]any) (any, error) { return nil, nil }})

	assert.Panics(t, func() {
		r.RegisterRunner("x", &RegisteredRunner{})
	})
	assert.Equal(t, []string{"x"}, r.Names())
}
