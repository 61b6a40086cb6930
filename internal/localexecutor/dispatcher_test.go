package localexecutor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/burstflow/internal/dag"
	"github.com/specialistvlad/burstflow/internal/executor"
	"github.com/specialistvlad/burstflow/internal/graph"
	"github.com/specialistvlad/burstflow/internal/inmemorystore"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// haltSupervisor fails the run on the first permanent failure and
// completes it once every task is terminal.
type haltSupervisor struct {
	g      graph.Graph
	mu     sync.Mutex
	failed []string
}

func (s *haltSupervisor) TaskFailed(ctx context.Context, id string, err error) {
	s.mu.Lock()
	s.failed = append(s.failed, id)
	s.mu.Unlock()
	s.g.States().CompareAndSetAggregate(ctx, nodestore.Running, nodestore.Failed)
}

func (s *haltSupervisor) Drained(ctx context.Context) {
	if s.g.Counts(ctx).Terminal() {
		s.g.States().CompareAndSetAggregate(ctx, nodestore.Running, nodestore.Completed)
	}
}

func (s *haltSupervisor) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failed...)
}

func newGraph(t *testing.T, ctx context.Context, defs []task.Definition) *graph.Manager {
	t.Helper()
	for i := range defs {
		if defs[i].Payload == nil {
			defs[i].Payload = defs[i].ID
		}
	}
	topo, err := dag.Validate(ctx, defs)
	require.NoError(t, err)

	states := inmemorystore.New()
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	states.Init(ctx, ids)
	require.True(t, states.CompareAndSetAggregate(ctx, nodestore.Idle, nodestore.Running))
	return graph.New(topo, states)
}

func fastRetry(maxAttempts int) *retry.Controller {
	return retry.NewController(retry.Policy{
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: maxAttempts,
	})
}

func runToEnd(t *testing.T, ctx context.Context, d *Dispatcher) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not finish")
	}
}

func TestDispatcher_Run(t *testing.T) {
	t.Parallel()

	t.Run("runs a diamond in dependency order", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		g := newGraph(t, ctx, []task.Definition{
			{ID: "a"},
			{ID: "b", Dependencies: []string{"a"}},
			{ID: "c", Dependencies: []string{"a"}},
			{ID: "d", Dependencies: []string{"b", "c"}},
		})
		rec := testutil.NewRecorder()
		rec.Sleep = 5 * time.Millisecond
		sup := &haltSupervisor{g: g}
		d, err := New(g, rec, sup, Config{MaxConcurrency: 4, Retry: fastRetry(1)})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		assert.Equal(t, nodestore.Completed, g.States().Aggregate(ctx))
		order := rec.Order()
		require.Len(t, order, 4)
		assert.Equal(t, "a", order[0])
		assert.Equal(t, "d", order[3])
		assert.Equal(t, map[string]any{"b": "out:b", "c": "out:c"}, rec.Upstream("d"))
		assert.False(t, rec.Records("d")[0].Start.Before(rec.Records("b")[0].End))
		assert.False(t, rec.Records("d")[0].Start.Before(rec.Records("c")[0].End))
	})

	t.Run("never exceeds max concurrency", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		var defs []task.Definition
		for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"} {
			defs = append(defs, task.Definition{ID: id})
		}
		g := newGraph(t, ctx, defs)
		rec := testutil.NewRecorder()
		rec.Sleep = 10 * time.Millisecond
		d, err := New(g, rec, &haltSupervisor{g: g}, Config{MaxConcurrency: 2, Retry: fastRetry(1)})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		assert.Equal(t, nodestore.Completed, g.States().Aggregate(ctx))
		assert.LessOrEqual(t, rec.Peak(), 2)
		assert.Len(t, rec.Order(), 8)
	})

	t.Run("dispatches higher priority first", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		g := newGraph(t, ctx, []task.Definition{
			{ID: "low", Priority: 1},
			{ID: "high", Priority: 10},
			{ID: "mid", Priority: 5},
		})
		rec := testutil.NewRecorder()
		d, err := New(g, rec, &haltSupervisor{g: g}, Config{MaxConcurrency: 1, Retry: fastRetry(1)})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		assert.Equal(t, []string{"high", "mid", "low"}, rec.Order())
	})

	t.Run("retries a failing task until it succeeds", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		g := newGraph(t, ctx, []task.Definition{{ID: "flaky"}})
		rec := testutil.NewRecorder()
		rec.Failures["flaky"] = 2

		var mu sync.Mutex
		var kinds []EventKind
		observer := func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, ev.Kind)
		}
		d, err := New(g, rec, &haltSupervisor{g: g}, Config{MaxConcurrency: 1, Retry: fastRetry(3), Observer: observer})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		st, ok := g.States().Get(ctx, "flaky")
		require.True(t, ok)
		assert.Equal(t, node.Succeeded, st.Status)
		assert.Equal(t, 3, st.Attempts)
		assert.Equal(t, "out:flaky", st.Output)
		mu.Lock()
		assert.Equal(t, []EventKind{
			TaskStarted, TaskRetrying,
			TaskStarted, TaskRetrying,
			TaskStarted, TaskSucceeded,
		}, kinds)
		mu.Unlock()
	})

	t.Run("reports exhausted retries to the supervisor", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		g := newGraph(t, ctx, []task.Definition{
			{ID: "bad"},
			{ID: "child", Dependencies: []string{"bad"}},
		})
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		sup := &haltSupervisor{g: g}
		d, err := New(g, rec, sup, Config{MaxConcurrency: 2, Retry: fastRetry(2)})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		assert.Equal(t, []string{"bad"}, sup.Failed())
		assert.Equal(t, nodestore.Failed, g.States().Aggregate(ctx))

		st, _ := g.States().Get(ctx, "bad")
		assert.Equal(t, node.Failed, st.Status)
		assert.Equal(t, 2, st.Attempts)
		var exhausted *retry.RetryExhaustedError
		require.ErrorAs(t, st.Err, &exhausted)
		assert.Equal(t, 2, exhausted.Attempts)
		assert.ErrorIs(t, st.Err, testutil.ErrScripted)

		child, _ := g.States().Get(ctx, "child")
		assert.Equal(t, node.Pending, child.Status)
		assert.Zero(t, rec.Attempts("child"))
	})

	t.Run("task max attempts overrides the policy", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		g := newGraph(t, ctx, []task.Definition{{ID: "once", MaxAttempts: 1}})
		rec := testutil.NewRecorder()
		rec.Failures["once"] = -1
		d, err := New(g, rec, &haltSupervisor{g: g}, Config{MaxConcurrency: 1, Retry: fastRetry(5)})
		require.NoError(t, err)

		// Act
		runToEnd(t, ctx, d)

		// Assert
		assert.Equal(t, 1, rec.Attempts("once"))
	})
}

func TestDispatcher_AttemptTimeout(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	g := newGraph(t, ctx, []task.Definition{{ID: "stuck"}})
	blocking := executor.Func(func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		time.Sleep(time.Second)
		return "too late", nil
	})
	d, err := New(g, blocking, &haltSupervisor{g: g}, Config{
		MaxConcurrency: 1,
		TaskTimeout:    20 * time.Millisecond,
		Retry:          fastRetry(1),
	})
	require.NoError(t, err)

	// Act
	start := time.Now()
	runToEnd(t, ctx, d)

	// Assert
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	st, _ := g.States().Get(ctx, "stuck")
	assert.Equal(t, node.Failed, st.Status)
	assert.ErrorIs(t, st.Err, context.DeadlineExceeded)
	var execErr *executor.TaskExecutionError
	require.ErrorAs(t, st.Err, &execErr)
	assert.Equal(t, "stuck", execErr.TaskID)
}

func TestDispatcher_RecoversExecutorPanic(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	g := newGraph(t, ctx, []task.Definition{{ID: "boom"}})
	panicky := executor.Func(func(context.Context, any, map[string]any) (any, error) {
		panic("kaboom")
	})
	d, err := New(g, panicky, &haltSupervisor{g: g}, Config{MaxConcurrency: 1, Retry: fastRetry(1)})
	require.NoError(t, err)

	// Act
	runToEnd(t, ctx, d)

	// Assert
	st, _ := g.States().Get(ctx, "boom")
	assert.Equal(t, node.Failed, st.Status)
	assert.ErrorContains(t, st.Err, "kaboom")
}

func TestDispatcher_PausedRunClaimsNothing(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	g := newGraph(t, ctx, []task.Definition{{ID: "a"}, {ID: "b"}})
	rec := testutil.NewRecorder()
	d, err := New(g, rec, &haltSupervisor{g: g}, Config{MaxConcurrency: 2, Retry: fastRetry(1)})
	require.NoError(t, err)
	d.Quiesce(func() {
		require.True(t, g.States().CompareAndSetAggregate(ctx, nodestore.Running, nodestore.Paused))
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	// Act
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.Attempts("a"))
	d.Quiesce(func() {
		require.True(t, g.States().CompareAndSetAggregate(ctx, nodestore.Paused, nodestore.Running))
	})
	d.Wake()

	// Assert
	require.Eventually(t, func() bool {
		return g.States().Aggregate(ctx) == nodestore.Completed
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 1, rec.Attempts("a"))
	assert.Equal(t, 1, rec.Attempts("b"))
}

func TestNew_RejectsZeroConcurrency(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, nil, Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConcurrency))
}

func TestDispatcher_RateLimit(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	g := newGraph(t, ctx, []task.Definition{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	rec := testutil.NewRecorder()
	d, err := New(g, rec, &haltSupervisor{g: g}, Config{
		MaxConcurrency: 3,
		DispatchRate:   20,
		DispatchBurst:  1,
		Retry:          fastRetry(1),
	})
	require.NoError(t, err)

	// Act
	start := time.Now()
	runToEnd(t, ctx, d)

	// Assert
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Len(t, rec.Order(), 3)
}
