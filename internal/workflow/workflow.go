package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/dag"
	"github.com/specialistvlad/burstflow/internal/executor"
	"github.com/specialistvlad/burstflow/internal/graph"
	"github.com/specialistvlad/burstflow/internal/inmemorystore"
	"github.com/specialistvlad/burstflow/internal/localexecutor"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/topologystore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Workflow is one run of a task graph.
type Workflow struct {
	defs   []task.Definition
	ids    []string
	exec   executor.Executor
	opts   options
	states nodestore.Store
	retry  *retry.Controller

	// mu serialises control operations and guards topo and run.
	mu   sync.Mutex
	topo topologystore.Store
	run  *run

	// meta guards the fields below. Observers may read them while a
	// control operation holds mu.
	meta      sync.Mutex
	runID     string
	startedAt time.Time
	endedAt   time.Time
	timedOut  bool
}

// run is the machinery of one live dispatch loop.
type run struct {
	disp   *localexecutor.Dispatcher
	timers *retry.Timers
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) alive() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// New creates an Idle workflow. The graph itself is validated by Start.
func New(defs []task.Definition, exec executor.Executor, opts ...Option) (*Workflow, error) {
	if exec == nil {
		return nil, errors.New("workflow: executor is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("workflow: invalid options: %w", err)
	}

	w := &Workflow{
		exec:   exec,
		opts:   o,
		states: o.store,
		retry:  retry.NewController(o.retryPolicy),
		runID:  o.runID,
	}
	if w.states == nil {
		w.states = inmemorystore.New()
	}
	if w.runID == "" {
		w.runID = uuid.NewString()
	}

	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		w.defs = append(w.defs, d.Clone())
		if !seen[d.ID] {
			seen[d.ID] = true
			w.ids = append(w.ids, d.ID)
		}
	}
	w.states.Init(context.Background(), w.ids)
	return w, nil
}

// RunID returns the id of this run.
func (w *Workflow) RunID() string {
	w.meta.Lock()
	defer w.meta.Unlock()
	return w.runID
}

// Definitions returns a copy of the task definitions.
func (w *Workflow) Definitions() []task.Definition {
	out := make([]task.Definition, len(w.defs))
	for i, d := range w.defs {
		out[i] = d.Clone()
	}
	return out
}

// Validate checks the task graph without starting anything.
func (w *Workflow) Validate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.topology(ctx)
	return err
}

func (w *Workflow) topology(ctx context.Context) (topologystore.Store, error) {
	if w.topo != nil {
		return w.topo, nil
	}
	topo, err := dag.Validate(ctx, w.defs)
	if err != nil {
		return nil, err
	}
	w.topo = topo
	return topo, nil
}

func (w *Workflow) logger(ctx context.Context) *slog.Logger {
	if w.opts.logger != nil {
		return w.opts.logger
	}
	return ctxlog.FromContext(ctx)
}

// Start validates the graph and launches the run. It returns as soon as the
// run is Running. ctx bounds the run: when it is cancelled the run is
// cancelled too.
func (w *Workflow) Start(ctx context.Context) (err error) {
	initMetrics(ctx)
	defer func() { recordControl(ctx, "start", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	if agg := w.states.Aggregate(ctx); agg != nodestore.Idle {
		return &InvalidStateTransitionError{Op: "start", From: agg}
	}
	topo, err := w.topology(ctx)
	if err != nil {
		w.logger(ctx).Error("Workflow graph is invalid.", "error", err)
		return err
	}
	if !w.states.CompareAndSetAggregate(ctx, nodestore.Idle, nodestore.Running) {
		return &InvalidStateTransitionError{Op: "start", From: w.states.Aggregate(ctx)}
	}

	w.meta.Lock()
	w.startedAt = time.Now()
	w.endedAt = time.Time{}
	w.meta.Unlock()
	w.emitAggregate(nodestore.Running)
	if err := w.launch(ctx, topo); err != nil {
		w.states.CompareAndSetAggregate(ctx, nodestore.Running, nodestore.Idle)
		return err
	}
	w.logger(ctx).Info("Workflow started.", "run_id", w.runID, "tasks", len(w.ids), "max_concurrency", w.opts.maxConcurrency)
	return nil
}

// launch starts a dispatch loop for a run whose aggregate is already
// Running. The caller holds w.mu.
func (w *Workflow) launch(ctx context.Context, topo topologystore.Store) error {
	logger := w.logger(ctx).With("run_id", w.runID)
	base := ctxlog.WithLogger(context.WithoutCancel(ctx), logger)
	runCtx, cancel := context.WithCancel(base)

	r := &run{
		timers: retry.NewTimers(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g := graph.New(topo, w.states)
	disp, err := localexecutor.New(g, w.exec, &supervisor{w: w, r: r, g: g}, localexecutor.Config{
		MaxConcurrency: w.opts.maxConcurrency,
		DispatchRate:   w.opts.dispatchRate,
		DispatchBurst:  w.opts.dispatchBurst,
		TaskTimeout:    w.opts.taskTimeout,
		Retry:          w.retry,
		Timers:         r.timers,
		Observer:       w.opts.observer,
	})
	if err != nil {
		cancel()
		return err
	}
	r.disp = disp
	w.run = r

	stopWatch := context.AfterFunc(ctx, func() {
		logger.Warn("Workflow context ended, cancelling run.", "reason", context.Cause(ctx))
		_ = w.cancel(base, false)
	})
	var deadline *time.Timer
	if w.opts.timeout > 0 {
		deadline = time.AfterFunc(w.opts.timeout, func() {
			logger.Warn("Workflow timeout exceeded, cancelling run.", "timeout", w.opts.timeout)
			_ = w.cancel(base, true)
		})
	}

	spanCtx, span := tracer.Start(runCtx, "burstflow.workflow",
		trace.WithAttributes(
			attribute.String("workflow.run_id", w.runID),
			attribute.Int("workflow.tasks", len(w.ids)),
		),
	)

	go func() {
		defer close(r.done)
		if err := disp.Run(spanCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Dispatcher stopped unexpectedly.", "error", err)
		}
		stopWatch()
		if deadline != nil {
			deadline.Stop()
		}
		agg := w.settle(base, r)
		span.SetAttributes(attribute.String("workflow.status", agg.String()))
		span.End()
		cancel()
	}()
	return nil
}

// settle tidies a run whose loop has exited and records its end.
func (w *Workflow) settle(ctx context.Context, r *run) nodestore.AggregateStatus {
	logger := ctxlog.FromContext(ctx)
	r.timers.StopAll()

	agg := w.states.Aggregate(ctx)
	switch agg {
	case nodestore.Failed:
		w.cancelRemaining(ctx, node.Pending, node.Ready)
	case nodestore.Cancelled:
		w.cancelRemaining(ctx, node.Pending, node.Ready, node.Running)
	case nodestore.Completed:
	default:
		logger.Error("Dispatch loop exited while the run was not terminal.", "status", agg)
	}

	w.meta.Lock()
	w.endedAt = time.Now()
	elapsed := w.endedAt.Sub(w.startedAt)
	w.meta.Unlock()

	attrs := metric.WithAttributes(attribute.String("status", agg.String()))
	if runsTotal != nil {
		runsTotal.Add(ctx, 1, attrs)
	}
	if runDuration != nil {
		runDuration.Record(ctx, elapsed.Seconds(), attrs)
	}

	res := w.Result(ctx)
	logger.Info("Workflow finished.",
		"status", agg,
		"completed", res.CompletedTasks,
		"failed", res.FailedTasks,
		"cancelled", res.CancelledTasks,
		"duration", elapsed,
	)
	return agg
}

// cancelRemaining moves every task in one of the given statuses to
// Cancelled.
func (w *Workflow) cancelRemaining(ctx context.Context, from ...node.Status) {
	now := time.Now()
	for _, id := range w.ids {
		st, ok := w.states.Get(ctx, id)
		if !ok {
			continue
		}
		for _, s := range from {
			if st.Status != s {
				continue
			}
			if w.states.Finish(ctx, id, s, node.Cancelled, nil, nil, now) {
				w.emit(Event{Kind: localexecutor.TaskCancelled, TaskID: id, Attempt: st.Attempts, Status: node.Cancelled, At: now})
			}
			break
		}
	}
}

// Pause stops new tasks from starting. Running attempts finish normally.
func (w *Workflow) Pause(ctx context.Context) (err error) {
	defer func() { recordControl(ctx, "pause", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	paused := false
	w.quiesce(func() {
		paused = w.states.CompareAndSetAggregate(ctx, nodestore.Running, nodestore.Paused)
	})
	if !paused {
		return &InvalidStateTransitionError{Op: "pause", From: w.states.Aggregate(ctx)}
	}
	w.logger(ctx).Info("Workflow paused.", "run_id", w.runID)
	w.emitAggregate(nodestore.Paused)
	return nil
}

// Resume continues a paused run. On a restored run with no live dispatch
// loop it also accepts Running, requeues orphaned tasks and starts a loop;
// ctx then bounds the new loop the way it does for Start.
func (w *Workflow) Resume(ctx context.Context) (err error) {
	initMetrics(ctx)
	defer func() { recordControl(ctx, "resume", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	agg := w.states.Aggregate(ctx)
	if w.run.alive() {
		resumed := false
		w.quiesce(func() {
			resumed = w.states.CompareAndSetAggregate(ctx, nodestore.Paused, nodestore.Running)
		})
		if !resumed {
			return &InvalidStateTransitionError{Op: "resume", From: w.states.Aggregate(ctx)}
		}
		w.run.disp.Wake()
		w.logger(ctx).Info("Workflow resumed.", "run_id", w.runID)
		w.emitAggregate(nodestore.Running)
		return nil
	}

	if agg != nodestore.Paused && (agg != nodestore.Running || w.run != nil) {
		return &InvalidStateTransitionError{Op: "resume", From: agg}
	}
	return w.recoverRun(ctx, agg)
}

// recoverRun restarts dispatching for a restored run. The caller holds w.mu.
func (w *Workflow) recoverRun(ctx context.Context, from nodestore.AggregateStatus) error {
	logger := w.logger(ctx)
	topo, err := w.topology(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var failed []string
	for _, id := range w.ids {
		st, _ := w.states.Get(ctx, id)
		switch st.Status {
		case node.Ready, node.Running:
			def, _ := topo.Task(ctx, id)
			if limit := w.retry.Policy().AttemptsFor(def.MaxAttempts); st.Status == node.Running && st.Attempts >= limit {
				exhausted := &RetryExhaustedError{TaskID: id, Attempts: st.Attempts, Last: errors.New("attempt interrupted by restart")}
				if w.states.Finish(ctx, id, node.Running, node.Failed, nil, exhausted, now) {
					failed = append(failed, id)
				}
				continue
			}
			if w.states.CompareAndSet(ctx, id, st.Status, node.Pending) {
				logger.Debug("Requeued orphaned task.", "task", id, "was", st.Status)
			}
		case node.Failed:
			failed = append(failed, id)
		}
	}

	if !w.states.CompareAndSetAggregate(ctx, from, nodestore.Running) {
		return &InvalidStateTransitionError{Op: "resume", From: w.states.Aggregate(ctx)}
	}
	w.meta.Lock()
	if w.startedAt.IsZero() {
		w.startedAt = now
	}
	w.endedAt = time.Time{}
	w.meta.Unlock()
	w.emitAggregate(nodestore.Running)

	// Failures recorded before the restart get the policy applied before
	// anything new is dispatched.
	base := ctxlog.WithLogger(ctx, logger.With("run_id", w.runID))
	sup := &supervisor{w: w, g: graph.New(topo, w.states)}
	for _, id := range failed {
		sup.TaskFailed(base, id, nil)
	}
	if agg := w.states.Aggregate(ctx); agg.Terminal() {
		w.cancelRemaining(ctx, node.Pending, node.Ready)
		w.meta.Lock()
		w.endedAt = time.Now()
		w.meta.Unlock()
		logger.Info("Restored run ended without dispatching.", "run_id", w.runID, "status", agg)
		return nil
	}

	if err := w.launch(ctx, topo); err != nil {
		w.states.CompareAndSetAggregate(ctx, nodestore.Running, from)
		return err
	}
	logger.Info("Workflow recovered from snapshot.", "run_id", w.runID, "failed", len(failed))
	return nil
}

// Cancel stops the run. Every task that has not Succeeded or Failed becomes
// Cancelled, retry timers are stopped and in-flight attempts have their
// contexts cancelled. Results that arrive later are discarded.
func (w *Workflow) Cancel(ctx context.Context) (err error) {
	defer func() { recordControl(ctx, "cancel", err) }()
	return w.cancel(ctx, false)
}

func (w *Workflow) cancel(ctx context.Context, timedOut bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var from nodestore.AggregateStatus
	cancelled := false
	w.quiesce(func() {
		from = w.states.Aggregate(ctx)
		if from == nodestore.Running || from == nodestore.Paused {
			cancelled = w.states.CompareAndSetAggregate(ctx, from, nodestore.Cancelled)
		}
	})
	if !cancelled {
		return &InvalidStateTransitionError{Op: "cancel", From: from}
	}
	w.meta.Lock()
	w.timedOut = timedOut
	w.meta.Unlock()

	r := w.run
	if r != nil {
		r.timers.StopAll()
	}
	w.cancelRemaining(ctx, node.Pending, node.Ready, node.Running)
	if r.alive() {
		r.cancel()
		r.disp.Wake()
	} else {
		w.meta.Lock()
		w.endedAt = time.Now()
		w.meta.Unlock()
	}

	w.logger(ctx).Warn("Workflow cancelled.", "run_id", w.runID, "timed_out", timedOut)
	w.emitAggregate(nodestore.Cancelled)
	return nil
}

// Wait blocks until the run's dispatch loop has exited and every in-flight
// attempt has returned, or until ctx is done. It returns nil for a
// Completed run, a *WorkflowFailedError for a Failed one and ErrCancelled
// (or ErrTimedOut) for a Cancelled one.
func (w *Workflow) Wait(ctx context.Context) error {
	w.mu.Lock()
	r := w.run
	w.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch agg := w.states.Aggregate(ctx); agg {
	case nodestore.Completed:
		return nil
	case nodestore.Failed:
		return w.failedError(ctx)
	case nodestore.Cancelled:
		w.meta.Lock()
		timedOut := w.timedOut
		w.meta.Unlock()
		if timedOut {
			return ErrTimedOut
		}
		return ErrCancelled
	default:
		return &InvalidStateTransitionError{Op: "wait", From: agg}
	}
}

func (w *Workflow) failedError(ctx context.Context) error {
	e := &WorkflowFailedError{}
	for _, id := range w.ids {
		st, ok := w.states.Get(ctx, id)
		if !ok || st.Status != node.Failed {
			continue
		}
		e.Failed = append(e.Failed, id)
		if st.Err != nil {
			e.Causes = append(e.Causes, st.Err)
		}
	}
	return e
}

// Snapshot returns a consistent copy of the run's state.
func (w *Workflow) Snapshot(ctx context.Context) nodestore.Snapshot {
	snap := w.states.Snapshot(ctx)
	snap.RunID = w.RunID()
	return snap
}

// Restore replaces the run's state with snap. It is rejected while a
// dispatch loop is live. The snapshot must describe exactly the workflow's
// tasks.
func (w *Workflow) Restore(ctx context.Context, snap nodestore.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run.alive() {
		return &InvalidStateTransitionError{Op: "restore", From: w.states.Aggregate(ctx)}
	}
	if _, err := w.topology(ctx); err != nil {
		return err
	}
	if len(snap.Tasks) != len(w.ids) {
		return fmt.Errorf("%w: snapshot has %d task(s), workflow has %d", ErrSnapshotMismatch, len(snap.Tasks), len(w.ids))
	}
	for _, id := range w.ids {
		if _, ok := snap.Tasks[id]; !ok {
			return fmt.Errorf("%w: task %q missing", ErrSnapshotMismatch, id)
		}
	}
	if err := w.states.Restore(ctx, snap); err != nil {
		return err
	}

	w.run = nil
	w.meta.Lock()
	if snap.RunID != "" {
		w.runID = snap.RunID
	}
	w.startedAt, w.endedAt, w.timedOut = time.Time{}, time.Time{}, false
	w.meta.Unlock()
	w.logger(ctx).Info("Workflow restored.", "run_id", w.runID, "status", snap.AggregateStatus, "taken_at", snap.TakenAt)
	return nil
}

// quiesce runs fn with the live loop, if any, kept from claiming tasks.
func (w *Workflow) quiesce(fn func()) {
	if w.run.alive() {
		w.run.disp.Quiesce(fn)
		return
	}
	fn()
}

func (w *Workflow) emit(ev Event) {
	if w.opts.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	w.opts.observer(ev)
}

func (w *Workflow) emitAggregate(s nodestore.AggregateStatus) {
	w.emit(Event{Kind: localexecutor.AggregateChanged, Aggregate: s})
}

func recordControl(ctx context.Context, op string, err error) {
	if controlTotal == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	controlTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
