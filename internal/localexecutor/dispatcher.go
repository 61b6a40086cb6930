package localexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/executor"
	"github.com/specialistvlad/burstflow/internal/graph"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/retry"
	"github.com/specialistvlad/burstflow/internal/scheduler"
	"github.com/specialistvlad/burstflow/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrInvalidConcurrency is returned by New when MaxConcurrency is below one.
var ErrInvalidConcurrency = errors.New("max concurrency must be at least 1")

// Supervisor applies run-level policy on behalf of the dispatcher.
type Supervisor interface {
	// TaskFailed is called once per task that failed permanently, after the
	// task was recorded as Failed and before its worker slot is released.
	TaskFailed(ctx context.Context, id string, err error)
	// Drained is called when the run is Running or Paused and nothing is
	// in flight or waiting on a retry timer. A Running run also has nothing
	// ready to start. The supervisor decides whether the run is over.
	Drained(ctx context.Context)
}

// Config holds the knobs and collaborators of a Dispatcher.
type Config struct {
	// MaxConcurrency bounds the number of simultaneously Running tasks.
	MaxConcurrency int
	// DispatchRate limits new attempts per second. Zero disables limiting.
	DispatchRate float64
	// DispatchBurst is the token bucket size used with DispatchRate.
	DispatchBurst int
	// TaskTimeout bounds an attempt of a task that has no own timeout.
	// Zero means unbounded.
	TaskTimeout time.Duration

	Retry     *retry.Controller
	Timers    *retry.Timers
	Scheduler scheduler.Scheduler
	Observer  Observer
}

// Dispatcher runs the dispatch loop of one workflow run.
type Dispatcher struct {
	g    graph.Graph
	exec executor.Executor
	sup  Supervisor
	cfg  Config

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	// claimMu serialises a claim with run-level transitions made through
	// Quiesce.
	claimMu sync.Mutex

	wake     chan struct{}
	inflight sync.WaitGroup
	running  atomic.Int64
	now      func() time.Time
	metrics  instruments
}

// New creates a Dispatcher for g. Missing collaborators in cfg get
// defaults: the default retry policy, a fresh timer set and a scheduler
// over g.
func New(g graph.Graph, exec executor.Executor, sup Supervisor, cfg Config) (*Dispatcher, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, cfg.MaxConcurrency)
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.NewController(retry.DefaultPolicy())
	}
	if cfg.Timers == nil {
		cfg.Timers = retry.NewTimers()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New(g)
	}

	d := &Dispatcher{
		g:    g,
		exec: exec,
		sup:  sup,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}
	return d, nil
}

// Wake asks the loop to re-evaluate the run. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Quiesce runs fn while no task is being claimed. A task the loop has not
// claimed when fn starts is not claimed until fn returns, so a transition
// made by fn is observed by every later claim.
func (d *Dispatcher) Quiesce(fn func()) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()
	fn()
}

// Run drives the run until its aggregate status is terminal or ctx is done.
// In both cases it waits for in-flight attempts to return before it does.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	d.metrics.init(ctx)
	logger.Debug("Dispatcher started.", "max_concurrency", d.cfg.MaxConcurrency)

	d.Wake()
	for {
		select {
		case <-ctx.Done():
			d.inflight.Wait()
			logger.Debug("Dispatcher stopped by context.", "reason", ctx.Err())
			return ctx.Err()
		case <-d.wake:
		}

		if d.step(ctx) {
			d.inflight.Wait()
			logger.Debug("Dispatcher finished.", "status", d.g.States().Aggregate(ctx))
			return nil
		}
	}
}

// step performs one evaluation of the run and reports whether it is over.
func (d *Dispatcher) step(ctx context.Context) bool {
	states := d.g.States()
	switch agg := states.Aggregate(ctx); {
	case agg.Terminal():
		return true
	case agg == nodestore.Paused:
		// A paused run still ends once its last in-flight task has.
		return d.drained(ctx)
	case agg != nodestore.Running:
		return false
	}

	d.dispatch(ctx)
	return d.drained(ctx)
}

// drained hands an idle run to the supervisor and reports whether it ended.
func (d *Dispatcher) drained(ctx context.Context) bool {
	if d.running.Load() != 0 || d.cfg.Timers.Pending() != 0 {
		return false
	}
	d.sup.Drained(ctx)
	return d.g.States().Aggregate(ctx).Terminal()
}

// dispatch claims ready tasks in scheduler order until capacity runs out.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for _, id := range d.cfg.Scheduler.Ready(ctx) {
		if !d.sem.TryAcquire(1) {
			return
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.sem.Release(1)
				return
			}
		}

		def, st, ok, stop := d.claim(ctx, id)
		if stop {
			d.sem.Release(1)
			return
		}
		if !ok {
			d.sem.Release(1)
			continue
		}

		d.running.Add(1)
		d.inflight.Add(1)
		d.emit(Event{Kind: TaskStarted, TaskID: id, Attempt: st.Attempts, Status: node.Running, At: st.StartedAt})
		go d.execute(ctx, def, st)
	}
}

// claim moves id to Running if the run still accepts new attempts. stop is
// true when the run left Running and dispatching must end.
func (d *Dispatcher) claim(ctx context.Context, id string) (def task.Definition, st node.State, ok, stop bool) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	if d.g.States().Aggregate(ctx) != nodestore.Running {
		return task.Definition{}, node.State{}, false, true
	}
	def, st, ok = d.g.Claim(ctx, id, d.now())
	return def, st, ok, false
}

func (d *Dispatcher) execute(ctx context.Context, def task.Definition, st node.State) {
	logger := ctxlog.FromContext(ctx).With("task", def.ID, "attempt", st.Attempts)
	ctx = ctxlog.WithLogger(ctx, logger)

	ctx, span := tracer.Start(ctx, "burstflow.task_attempt",
		trace.WithAttributes(
			attribute.String("task.id", def.ID),
			attribute.Int("task.attempt", st.Attempts),
			attribute.Int("task.priority", def.Priority),
		),
	)

	d.metrics.attempts.Add(ctx, 1, taskAttrs(def.ID))
	d.metrics.inFlight.Add(ctx, 1)
	logger.Debug("Attempt started.")

	start := time.Now()
	out, err := d.attempt(ctx, def, st.Attempts)
	d.metrics.duration.Record(ctx, time.Since(start).Seconds(), taskAttrs(def.ID))
	d.metrics.inFlight.Add(ctx, -1)

	var (
		retrying bool
		delay    time.Duration
	)
	if err == nil {
		d.succeed(ctx, def, st.Attempts, out)
		span.SetStatus(codes.Ok, "")
	} else {
		retrying, delay = d.fail(ctx, def, st.Attempts, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	d.running.Add(-1)
	d.sem.Release(1)
	if retrying {
		d.scheduleRetry(ctx, def.ID, delay)
	}
	d.inflight.Done()
	d.Wake()
}

// attempt runs the executor under the attempt's timeout. It returns as soon
// as the timeout expires even if the executor ignores its context.
func (d *Dispatcher) attempt(ctx context.Context, def task.Definition, n int) (any, error) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = d.cfg.TaskTimeout
	}
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	upstream, err := d.g.Upstream(ctx, def.ID)
	if err != nil {
		return nil, &executor.TaskExecutionError{TaskID: def.ID, Attempt: n, Err: err}
	}

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		out, err := d.exec.Execute(attemptCtx, def.Payload, upstream)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res = result{err: attemptCtx.Err()}
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		if res.err == nil || !errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
	}
	if res.err != nil {
		return nil, &executor.TaskExecutionError{TaskID: def.ID, Attempt: n, Err: res.err}
	}
	return res.out, nil
}

func (d *Dispatcher) succeed(ctx context.Context, def task.Definition, attempt int, out any) {
	logger := ctxlog.FromContext(ctx)
	at := d.now()
	if !d.g.States().Finish(ctx, def.ID, node.Running, node.Succeeded, out, nil, at) {
		logger.Debug("Discarding result of a task that is no longer running.")
		return
	}
	d.metrics.successes.Add(ctx, 1, taskAttrs(def.ID))
	logger.Info("Task succeeded.")
	d.emit(Event{Kind: TaskSucceeded, TaskID: def.ID, Attempt: attempt, Status: node.Succeeded, At: at})
}

// fail records a failed attempt and reports whether a retry must be
// scheduled once the worker slot is free.
func (d *Dispatcher) fail(ctx context.Context, def task.Definition, attempt int, err error) (bool, time.Duration) {
	logger := ctxlog.FromContext(ctx)
	states := d.g.States()
	at := d.now()

	if agg := states.Aggregate(ctx); agg.Terminal() {
		// A failed run still lets in-flight siblings finish their own
		// attempt; only one that would need another attempt is cancelled.
		if agg == nodestore.Failed && ctx.Err() == nil {
			if dec := d.cfg.Retry.OnFailure(ctx, def.ID, attempt, def.MaxAttempts, err); !dec.Retry {
				d.failPermanently(ctx, def, attempt, dec.Err, at)
				return false, 0
			}
		}
		if states.Finish(ctx, def.ID, node.Running, node.Cancelled, nil, err, at) {
			logger.Info("Task failed after the workflow ended; not retrying.", "error", err)
			d.emit(Event{Kind: TaskCancelled, TaskID: def.ID, Attempt: attempt, Status: node.Cancelled, Err: err, At: at})
		}
		return false, 0
	}

	dec := d.cfg.Retry.OnFailure(ctx, def.ID, attempt, def.MaxAttempts, err)
	if dec.Retry {
		if !states.Finish(ctx, def.ID, node.Running, node.Ready, nil, err, at) {
			logger.Debug("Discarding failure of a task that is no longer running.")
			return false, 0
		}
		d.metrics.retries.Add(ctx, 1, taskAttrs(def.ID))
		logger.Warn("Task attempt failed, retrying.", "delay", dec.Delay, "error", err)
		d.emit(Event{Kind: TaskRetrying, TaskID: def.ID, Attempt: attempt, Status: node.Ready, Delay: dec.Delay, Err: err, At: at})
		return true, dec.Delay
	}

	d.failPermanently(ctx, def, attempt, dec.Err, at)
	return false, 0
}

// failPermanently moves a running task to Failed and hands it to the
// supervisor.
func (d *Dispatcher) failPermanently(ctx context.Context, def task.Definition, attempt int, err error, at time.Time) {
	logger := ctxlog.FromContext(ctx)
	if !d.g.States().Finish(ctx, def.ID, node.Running, node.Failed, nil, err, at) {
		logger.Debug("Discarding failure of a task that is no longer running.")
		return
	}
	d.metrics.failures.Add(ctx, 1, taskAttrs(def.ID))
	logger.Error("Task failed permanently.", "error", err)
	d.emit(Event{Kind: TaskFailed, TaskID: def.ID, Attempt: attempt, Status: node.Failed, Err: err, At: at})
	d.sup.TaskFailed(ctx, def.ID, err)
}

// scheduleRetry parks id behind a timer. The worker slot is already free.
func (d *Dispatcher) scheduleRetry(ctx context.Context, id string, delay time.Duration) {
	ctx = context.WithoutCancel(ctx)
	scheduled := d.cfg.Timers.Schedule(id, delay, func() {
		if d.g.States().CompareAndSet(ctx, id, node.Ready, node.Pending) {
			d.Wake()
		}
	})
	if !scheduled {
		ctxlog.FromContext(ctx).Debug("Retry timers are stopped; retry dropped.")
	}
}

func (d *Dispatcher) emit(ev Event) {
	if d.cfg.Observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	d.cfg.Observer(ev)
}
