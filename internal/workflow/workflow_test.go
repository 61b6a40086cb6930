package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/burstflow/internal/dag"
	"github.com/specialistvlad/burstflow/internal/localexecutor"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	}
}

// defs builds definitions whose payload is their own id, as the Recorder
// expects.
func defs(in ...task.Definition) []task.Definition {
	for i := range in {
		in[i].Payload = in[i].ID
	}
	return in
}

func newWorkflow(t *testing.T, d []task.Definition, rec *testutil.Recorder, opts ...Option) *Workflow {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastPolicy())}, opts...)
	w, err := New(d, rec, opts...)
	require.NoError(t, err)
	return w
}

func waitFor(t *testing.T, ctx context.Context, w *Workflow) error {
	t.Helper()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := w.Wait(waitCtx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "workflow did not finish")
	return err
}

func TestScenario_IndependentTasksThenJoin(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Sleep = 30 * time.Millisecond
	w := newWorkflow(t, defs(
		task.Definition{ID: "A", Priority: 5},
		task.Definition{ID: "B", Priority: 5},
		task.Definition{ID: "C", Priority: 3, Dependencies: []string{"A", "B"}},
	), rec, WithMaxConcurrency(2))

	// Act
	require.NoError(t, w.Start(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, nodestore.Completed, w.Status(ctx).Aggregate)

	a, b, c := rec.Records("A")[0], rec.Records("B")[0], rec.Records("C")[0]
	assert.True(t, a.Start.Before(b.End) && b.Start.Before(a.End), "A and B should overlap")
	assert.False(t, c.Start.Before(a.End))
	assert.False(t, c.Start.Before(b.End))
	assert.Equal(t, 2, rec.Peak())

	res := w.Result(ctx)
	assert.Equal(t, 3, res.CompletedTasks)
	assert.Equal(t, "C", res.ExecutionOrder[2])
	assert.Positive(t, res.ExecutionTime)
	assert.Equal(t, map[string]any{"A": "out:A", "B": "out:B", "C": "out:C"}, res.Outputs)
}

func TestScenario_RetrySucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Failures["A"] = 2
	w := newWorkflow(t, defs(task.Definition{ID: "A", MaxAttempts: 3}), rec)

	// Act
	require.NoError(t, w.Start(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	require.NoError(t, err)
	st := w.Status(ctx).Tasks["A"]
	assert.Equal(t, node.Succeeded, st.Status)
	assert.Equal(t, 3, st.Attempts)
}

func TestScenario_RetryExhausted(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Failures["A"] = -1
	w := newWorkflow(t, defs(task.Definition{ID: "A", MaxAttempts: 2}), rec)

	// Act
	require.NoError(t, w.Start(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	var failed *WorkflowFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, []string{"A"}, failed.Failed)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)

	status := w.Status(ctx)
	assert.Equal(t, nodestore.Failed, status.Aggregate)
	assert.Equal(t, node.Failed, status.Tasks["A"].Status)
	assert.Equal(t, 2, status.Tasks["A"].Attempts)
	assert.Contains(t, status.Tasks["A"].Error, "failed after 2 attempt(s)")
}

func TestScenario_CycleRejectedAtStart(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	w := newWorkflow(t, defs(
		task.Definition{ID: "A", Dependencies: []string{"B"}},
		task.Definition{ID: "B", Dependencies: []string{"A"}},
	), rec)

	// Act
	err := w.Start(ctx)

	// Assert
	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, dag.KindCycle, graphErr.Kind)
	assert.ErrorIs(t, err, dag.ErrInvalidGraph)

	status := w.Status(ctx)
	assert.Equal(t, nodestore.Idle, status.Aggregate)
	for id, st := range status.Tasks {
		assert.Equal(t, node.Pending, st.Status, id)
	}
	assert.Empty(t, rec.Log())
}

func TestProperty_DependenciesHappenBefore(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Sleep = 2 * time.Millisecond
	rec.Failures["fetch_1"] = 1
	graph := defs(
		task.Definition{ID: "config"},
		task.Definition{ID: "fetch_0", Dependencies: []string{"config"}, Priority: 2},
		task.Definition{ID: "fetch_1", Dependencies: []string{"config"}, Priority: 1},
		task.Definition{ID: "fetch_2", Dependencies: []string{"config"}},
		task.Definition{ID: "parse_0", Dependencies: []string{"fetch_0"}},
		task.Definition{ID: "parse_1", Dependencies: []string{"fetch_1"}},
		task.Definition{ID: "parse_2", Dependencies: []string{"fetch_2"}},
		task.Definition{ID: "merge", Dependencies: []string{"parse_0", "parse_1", "parse_2"}},
		task.Definition{ID: "audit"},
		task.Definition{ID: "report", Dependencies: []string{"merge", "audit"}},
	)
	w := newWorkflow(t, graph, rec, WithMaxConcurrency(3))

	// Act
	require.NoError(t, w.Start(ctx))
	require.NoError(t, waitFor(t, ctx, w))

	// Assert
	log := rec.Log()
	position := func(event string) int {
		last := -1
		for i, e := range log {
			if e == event {
				last = i
			}
		}
		return last
	}
	for _, d := range graph {
		start := -1
		for i, e := range log {
			if e == "start:"+d.ID {
				start = i
				break
			}
		}
		require.NotEqual(t, -1, start, d.ID)
		for _, dep := range d.Dependencies {
			ok := position("ok:" + dep)
			require.NotEqual(t, -1, ok, dep)
			assert.Less(t, ok, start, "%s started before %s succeeded", d.ID, dep)
		}
	}
	assert.LessOrEqual(t, rec.Peak(), 3)
}

func TestProperty_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max_concurrency=%d", n), func(t *testing.T) {
			t.Parallel()
			// Arrange
			ctx, _ := testutil.Context(t)
			rec := testutil.NewRecorder()
			rec.Sleep = 5 * time.Millisecond
			var graph []task.Definition
			for i := 0; i < 12; i++ {
				graph = append(graph, task.Definition{ID: fmt.Sprintf("t%02d", i)})
			}

			var mu sync.Mutex
			running, peak := 0, 0
			observer := func(ev Event) {
				mu.Lock()
				defer mu.Unlock()
				switch ev.Kind {
				case localexecutor.TaskStarted:
					running++
					peak = max(peak, running)
				case localexecutor.TaskSucceeded, localexecutor.TaskRetrying, localexecutor.TaskFailed:
					running--
				}
			}
			w := newWorkflow(t, defs(graph...), rec, WithMaxConcurrency(n), WithObserver(observer))

			// Act
			require.NoError(t, w.Start(ctx))
			require.NoError(t, waitFor(t, ctx, w))

			// Assert
			assert.LessOrEqual(t, rec.Peak(), n)
			mu.Lock()
			assert.LessOrEqual(t, peak, n)
			mu.Unlock()
		})
	}
}

func TestProperty_AttemptBound(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	for _, id := range []string{"one", "two", "policy"} {
		rec.Failures[id] = -1
	}
	w := newWorkflow(t, defs(
		task.Definition{ID: "one", MaxAttempts: 1},
		task.Definition{ID: "two", MaxAttempts: 2},
		task.Definition{ID: "policy"},
	), rec, WithFailurePolicy(PolicyContinue))

	// Act
	require.NoError(t, w.Start(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	var failed *WorkflowFailedError
	require.ErrorAs(t, err, &failed)
	assert.ElementsMatch(t, []string{"one", "two", "policy"}, failed.Failed)

	want := map[string]int{"one": 1, "two": 2, "policy": fastPolicy().MaxAttempts}
	for id, attempts := range want {
		st := w.Status(ctx).Tasks[id]
		assert.Equal(t, node.Failed, st.Status, id)
		assert.Equal(t, attempts, st.Attempts, id)
		assert.Equal(t, attempts, rec.Attempts(id), id)
	}
}

func TestProperty_PauseResumeIdempotent(t *testing.T) {
	t.Parallel()

	graph := func() []task.Definition {
		return defs(
			task.Definition{ID: "a"},
			task.Definition{ID: "b", Dependencies: []string{"a"}},
			task.Definition{ID: "c", Dependencies: []string{"a"}},
			task.Definition{ID: "d", Dependencies: []string{"b", "c"}},
			task.Definition{ID: "e"},
		)
	}
	script := func() *testutil.Recorder {
		rec := testutil.NewRecorder()
		rec.Sleep = 3 * time.Millisecond
		rec.Failures["c"] = 1
		return rec
	}
	ignoreTimes := cmpopts.IgnoreFields(TaskStatus{}, "StartedAt", "FinishedAt")

	// Arrange
	ctx, _ := testutil.Context(t)
	plain := newWorkflow(t, graph(), script(), WithRunID("run"))
	paused := newWorkflow(t, graph(), script(), WithRunID("run"))

	// Act
	require.NoError(t, plain.Start(ctx))
	require.NoError(t, waitFor(t, ctx, plain))

	require.NoError(t, paused.Start(ctx))
	require.NoError(t, paused.Pause(ctx))
	require.NoError(t, paused.Resume(ctx))
	require.NoError(t, waitFor(t, ctx, paused))

	// Assert
	if diff := cmp.Diff(plain.Status(ctx), paused.Status(ctx), ignoreTimes); diff != "" {
		t.Errorf("status mismatch after pause/resume (-plain +paused):\n%s", diff)
	}
}

func TestWorkflow_PauseStopsNewClaims(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Gate = make(chan struct{})
	w := newWorkflow(t, defs(
		task.Definition{ID: "first", Priority: 1},
		task.Definition{ID: "second"},
	), rec, WithMaxConcurrency(1))

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return rec.Current() == 1 }, 2*time.Second, time.Millisecond)

	// Act
	require.NoError(t, w.Pause(ctx))
	close(rec.Gate)

	// Assert
	require.Eventually(t, func() bool {
		return w.Status(ctx).Tasks["first"].Status == node.Succeeded
	}, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	status := w.Status(ctx)
	assert.Equal(t, nodestore.Paused, status.Aggregate)
	assert.Equal(t, node.Pending, status.Tasks["second"].Status)
	assert.Zero(t, rec.Attempts("second"))

	require.NoError(t, w.Resume(ctx))
	require.NoError(t, waitFor(t, ctx, w))
	assert.Equal(t, 1, rec.Attempts("second"))
}

func TestWorkflow_PausedRunCompletesWhenLastTaskFinishes(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Gate = make(chan struct{})
	w := newWorkflow(t, defs(task.Definition{ID: "only"}), rec)

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return rec.Current() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, w.Pause(ctx))

	// Act
	close(rec.Gate)
	err := waitFor(t, ctx, w)

	// Assert
	require.NoError(t, err)
	status := w.Status(ctx)
	assert.Equal(t, nodestore.Completed, status.Aggregate)
	assert.Equal(t, node.Succeeded, status.Tasks["only"].Status)
	assert.ErrorAs(t, w.Resume(ctx), new(*InvalidStateTransitionError))
}

func TestProperty_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Failures["b"] = -1
	graph := defs(
		task.Definition{ID: "a"},
		task.Definition{ID: "b", MaxAttempts: 1},
		task.Definition{ID: "c", Dependencies: []string{"a"}},
	)
	w := newWorkflow(t, graph, rec, WithFailurePolicy(PolicyContinue), WithRunID("round-trip"))
	require.NoError(t, w.Start(ctx))
	_ = waitFor(t, ctx, w)
	before := w.Status(ctx)

	// Act
	raw, err := json.Marshal(w.Snapshot(ctx))
	require.NoError(t, err)
	var snap nodestore.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored := newWorkflow(t, graph, testutil.NewRecorder())
	require.NoError(t, restored.Restore(ctx, snap))

	// Assert
	if diff := cmp.Diff(before, restored.Status(ctx)); diff != "" {
		t.Errorf("restored status mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "round-trip", restored.RunID())
	assert.ErrorAs(t, restored.Wait(ctx), new(*WorkflowFailedError))
}

func TestWorkflow_ResumeRestoredRun(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	started := time.Now().Add(-time.Minute).UTC()
	snap := nodestore.Snapshot{
		Version:         nodestore.SnapshotVersion,
		RunID:           "crashed",
		AggregateStatus: nodestore.Running,
		TakenAt:         started,
		Tasks: map[string]nodestore.TaskSnapshot{
			"a": {Status: node.Succeeded, AttemptCount: 1, Output: "out:a", StartedAt: &started, FinishedAt: &started},
			"b": {Status: node.Running, AttemptCount: 1, StartedAt: &started},
			"c": {Status: node.Ready, AttemptCount: 1, Error: "boom", StartedAt: &started},
			"d": {Status: node.Pending},
		},
	}
	rec := testutil.NewRecorder()
	w := newWorkflow(t, defs(
		task.Definition{ID: "a"},
		task.Definition{ID: "b", Dependencies: []string{"a"}},
		task.Definition{ID: "c"},
		task.Definition{ID: "d", Dependencies: []string{"b", "c"}},
	), rec)
	require.NoError(t, w.Restore(ctx, snap))

	// Act
	require.NoError(t, w.Resume(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	require.NoError(t, err)
	status := w.Status(ctx)
	assert.Equal(t, "crashed", status.RunID)
	assert.Equal(t, 1, status.Tasks["a"].Attempts)
	assert.Equal(t, 2, status.Tasks["b"].Attempts)
	assert.Equal(t, 2, status.Tasks["c"].Attempts)
	assert.Zero(t, rec.Attempts("a"))
	assert.Equal(t, map[string]any{"a": "out:a"}, rec.Upstream("b"))
}

func TestWorkflow_ResumeRestoredRunWithExhaustedTask(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	snap := nodestore.Snapshot{
		Version:         nodestore.SnapshotVersion,
		AggregateStatus: nodestore.Paused,
		Tasks: map[string]nodestore.TaskSnapshot{
			"a": {Status: node.Running, AttemptCount: 1},
			"b": {Status: node.Pending},
		},
	}
	rec := testutil.NewRecorder()
	w := newWorkflow(t, defs(
		task.Definition{ID: "a", MaxAttempts: 1},
		task.Definition{ID: "b"},
	), rec)
	require.NoError(t, w.Restore(ctx, snap))

	// Act
	require.NoError(t, w.Resume(ctx))
	err := w.Wait(ctx)

	// Assert
	assert.ErrorAs(t, err, new(*WorkflowFailedError))
	status := w.Status(ctx)
	assert.Equal(t, node.Failed, status.Tasks["a"].Status)
	assert.Equal(t, 1, status.Tasks["a"].Attempts)
	assert.Equal(t, node.Cancelled, status.Tasks["b"].Status)
	assert.Empty(t, rec.Log())
}

func TestWorkflow_Cancel(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Gate = make(chan struct{})
	w := newWorkflow(t, defs(
		task.Definition{ID: "slow"},
		task.Definition{ID: "after", Dependencies: []string{"slow"}},
	), rec)
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return rec.Current() == 1 }, 2*time.Second, time.Millisecond)

	// Act
	require.NoError(t, w.Cancel(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	assert.ErrorIs(t, err, ErrCancelled)
	status := w.Status(ctx)
	assert.Equal(t, nodestore.Cancelled, status.Aggregate)
	assert.Equal(t, node.Cancelled, status.Tasks["slow"].Status)
	assert.Equal(t, node.Cancelled, status.Tasks["after"].Status)
	assert.Zero(t, rec.Attempts("after"))

	var notAllowed *InvalidStateTransitionError
	require.ErrorAs(t, w.Cancel(ctx), &notAllowed)
	assert.Equal(t, nodestore.Cancelled, notAllowed.From)
	close(rec.Gate)
}

func TestWorkflow_LateResultIsDiscarded(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	release := make(chan struct{})
	finished := make(chan struct{})
	stubborn := executorFunc(func(context.Context, any, map[string]any) (any, error) {
		defer close(finished)
		<-release
		return "late", nil
	})
	w, err := New(defs(task.Definition{ID: "x"}), stubborn, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return w.Status(ctx).Tasks["x"].Status == node.Running
	}, 2*time.Second, time.Millisecond)

	// Act
	require.NoError(t, w.Cancel(ctx))
	require.ErrorIs(t, waitFor(t, ctx, w), ErrCancelled)
	close(release)
	<-finished

	// Assert
	time.Sleep(10 * time.Millisecond)
	st, _ := w.states.Get(ctx, "x")
	assert.Equal(t, node.Cancelled, st.Status)
	assert.Nil(t, st.Output)
}

func TestWorkflow_InvalidTransitions(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.Context(t)
	w := newWorkflow(t, defs(task.Definition{ID: "a"}), testutil.NewRecorder())

	t.Run("pause while idle", func(t *testing.T) {
		var e *InvalidStateTransitionError
		require.ErrorAs(t, w.Pause(ctx), &e)
		assert.Equal(t, "pause", e.Op)
		assert.Equal(t, nodestore.Idle, e.From)
	})
	t.Run("resume while idle", func(t *testing.T) {
		assert.ErrorAs(t, w.Resume(ctx), new(*InvalidStateTransitionError))
	})
	t.Run("cancel while idle", func(t *testing.T) {
		assert.ErrorAs(t, w.Cancel(ctx), new(*InvalidStateTransitionError))
	})
	t.Run("wait while idle", func(t *testing.T) {
		assert.ErrorAs(t, w.Wait(ctx), new(*InvalidStateTransitionError))
	})
	t.Run("start twice", func(t *testing.T) {
		require.NoError(t, w.Start(ctx))
		err := w.Start(ctx)
		assert.ErrorIs(t, err, ErrAlreadyStarted)
		require.NoError(t, waitFor(t, ctx, w))
	})
	t.Run("resume a completed run", func(t *testing.T) {
		var e *InvalidStateTransitionError
		require.ErrorAs(t, w.Resume(ctx), &e)
		assert.Equal(t, nodestore.Completed, e.From)
		assert.NotErrorIs(t, e, ErrAlreadyStarted)
	})
}

func TestFailurePolicies(t *testing.T) {
	t.Parallel()

	graph := func() []task.Definition {
		return defs(
			task.Definition{ID: "bad", MaxAttempts: 1, Priority: 10},
			task.Definition{ID: "child", Dependencies: []string{"bad"}},
			task.Definition{ID: "sibling", Priority: 5},
			task.Definition{ID: "later"},
		)
	}

	t.Run("halt lets in-flight tasks finish", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		rec.Delays["sibling"] = 40 * time.Millisecond
		w := newWorkflow(t, graph(), rec, WithMaxConcurrency(2))

		// Act
		require.NoError(t, w.Start(ctx))
		err := waitFor(t, ctx, w)

		// Assert
		assert.ErrorAs(t, err, new(*WorkflowFailedError))
		status := w.Status(ctx)
		assert.Equal(t, nodestore.Failed, status.Aggregate)
		assert.Equal(t, node.Failed, status.Tasks["bad"].Status)
		assert.Equal(t, node.Succeeded, status.Tasks["sibling"].Status)
		assert.Equal(t, node.Cancelled, status.Tasks["child"].Status)
		assert.Equal(t, node.Cancelled, status.Tasks["later"].Status)
		assert.Zero(t, rec.Attempts("later"))
	})

	t.Run("halt records an in-flight sibling that exhausts its attempts", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		rec.Failures["sib"] = -1
		rec.Delays["sib"] = 50 * time.Millisecond
		w := newWorkflow(t, defs(
			task.Definition{ID: "bad", MaxAttempts: 1, Priority: 10},
			task.Definition{ID: "sib", MaxAttempts: 1},
		), rec, WithMaxConcurrency(2))

		// Act
		require.NoError(t, w.Start(ctx))
		err := waitFor(t, ctx, w)

		// Assert
		var failed *WorkflowFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, []string{"bad", "sib"}, failed.Failed)
		status := w.Status(ctx)
		assert.Equal(t, node.Failed, status.Tasks["sib"].Status)
		assert.Equal(t, 1, status.Tasks["sib"].Attempts)
		st, ok := w.states.Get(ctx, "sib")
		require.True(t, ok)
		assert.ErrorAs(t, st.Err, new(*RetryExhaustedError))
	})

	t.Run("halt cancels an in-flight sibling that could still retry", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		rec.Failures["sib"] = -1
		rec.Delays["sib"] = 50 * time.Millisecond
		w := newWorkflow(t, defs(
			task.Definition{ID: "bad", MaxAttempts: 1, Priority: 10},
			task.Definition{ID: "sib", MaxAttempts: 3},
		), rec, WithMaxConcurrency(2))

		// Act
		require.NoError(t, w.Start(ctx))
		err := waitFor(t, ctx, w)

		// Assert
		var failed *WorkflowFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, []string{"bad"}, failed.Failed)
		assert.Equal(t, node.Cancelled, w.Status(ctx).Tasks["sib"].Status)
		assert.Equal(t, 1, rec.Attempts("sib"))
	})

	t.Run("cancel stops in-flight tasks", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		rec.Delays["bad"] = 10 * time.Millisecond
		rec.Delays["sibling"] = 5 * time.Second
		w := newWorkflow(t, graph(), rec, WithMaxConcurrency(2), WithFailurePolicy(PolicyCancel))

		// Act
		start := time.Now()
		require.NoError(t, w.Start(ctx))
		err := waitFor(t, ctx, w)

		// Assert
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.ErrorAs(t, err, new(*WorkflowFailedError))
		status := w.Status(ctx)
		assert.Equal(t, nodestore.Failed, status.Aggregate)
		assert.Equal(t, node.Cancelled, status.Tasks["sibling"].Status)
		assert.Equal(t, node.Cancelled, status.Tasks["later"].Status)
	})

	t.Run("continue finishes independent branches", func(t *testing.T) {
		t.Parallel()
		// Arrange
		ctx, _ := testutil.Context(t)
		rec := testutil.NewRecorder()
		rec.Failures["bad"] = -1
		w := newWorkflow(t, graph(), rec, WithMaxConcurrency(2), WithFailurePolicy(PolicyContinue))

		// Act
		require.NoError(t, w.Start(ctx))
		err := waitFor(t, ctx, w)

		// Assert
		var failed *WorkflowFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, []string{"bad"}, failed.Failed)
		status := w.Status(ctx)
		assert.Equal(t, node.Cancelled, status.Tasks["child"].Status)
		assert.Contains(t, status.Tasks["child"].Error, `upstream task "bad" failed`)
		assert.Equal(t, node.Succeeded, status.Tasks["sibling"].Status)
		assert.Equal(t, node.Succeeded, status.Tasks["later"].Status)
		assert.Equal(t, map[string]any{"sibling": "out:sibling", "later": "out:later"}, w.Result(ctx).Outputs)
	})
}

func TestWorkflow_Timeout(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()
	rec.Gate = make(chan struct{})
	w := newWorkflow(t, defs(task.Definition{ID: "forever"}), rec, WithTimeout(30*time.Millisecond))

	// Act
	require.NoError(t, w.Start(ctx))
	err := waitFor(t, ctx, w)

	// Assert
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.ErrorIs(t, err, ErrCancelled)
	res := w.Result(ctx)
	assert.True(t, res.TimedOut)
	assert.Equal(t, nodestore.Cancelled, res.Status)
	assert.Equal(t, 1, res.CancelledTasks)
}

func TestWorkflow_ContextCancellationCancelsRun(t *testing.T) {
	t.Parallel()

	// Arrange
	base, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(base)
	rec := testutil.NewRecorder()
	rec.Gate = make(chan struct{})
	w := newWorkflow(t, defs(task.Definition{ID: "a"}), rec)
	require.NoError(t, w.Start(ctx))

	// Act
	cancel()
	err := waitFor(t, base, w)

	// Assert
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrTimedOut)
}

func TestWorkflow_ObserverSeesAggregateTransitions(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testutil.Context(t)
	var mu sync.Mutex
	var aggregates []nodestore.AggregateStatus
	observer := func(ev Event) {
		if ev.Kind != localexecutor.AggregateChanged {
			return
		}
		mu.Lock()
		aggregates = append(aggregates, ev.Aggregate)
		mu.Unlock()
	}
	w := newWorkflow(t, defs(task.Definition{ID: "a"}), testutil.NewRecorder(), WithObserver(observer))

	// Act
	require.NoError(t, w.Start(ctx))
	require.NoError(t, waitFor(t, ctx, w))

	// Assert
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []nodestore.AggregateStatus{nodestore.Running, nodestore.Completed}, aggregates)
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	t.Run("rejects bad options", func(t *testing.T) {
		_, err := New(nil, testutil.NewRecorder(),
			WithMaxConcurrency(0),
			WithFailurePolicy("explode"),
		)
		require.Error(t, err)
		assert.ErrorContains(t, err, "max concurrency")
		assert.ErrorContains(t, err, "explode")
	})

	t.Run("requires an executor", func(t *testing.T) {
		_, err := New(nil, nil)
		require.Error(t, err)
	})

	t.Run("generates a run id", func(t *testing.T) {
		w, err := New(nil, testutil.NewRecorder())
		require.NoError(t, err)
		assert.Len(t, w.RunID(), 36)
	})
}

func TestRestore_RejectsMismatchedSnapshot(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.Context(t)
	w := newWorkflow(t, defs(task.Definition{ID: "a"}, task.Definition{ID: "b"}), testutil.NewRecorder())

	err := w.Restore(ctx, nodestore.Snapshot{
		Version: nodestore.SnapshotVersion,
		Tasks:   map[string]nodestore.TaskSnapshot{"a": {}, "z": {}},
	})
	assert.True(t, errors.Is(err, ErrSnapshotMismatch))
}

type executorFunc func(ctx context.Context, payload any, upstream map[string]any) (any, error)

func (f executorFunc) Execute(ctx context.Context, payload any, upstream map[string]any) (any, error) {
	return f(ctx, payload, upstream)
}
