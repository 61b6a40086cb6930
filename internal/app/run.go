package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/telemetry"
	"github.com/specialistvlad/burstflow/internal/workflow"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run loads the workflow, runs it to a terminal status and returns its
// result. With Config.Resume set the run continues from the stored
// checkpoint instead of starting fresh. The returned error is the one
// Workflow.Wait reports.
func (a *App) Run(ctx context.Context) (res workflow.Result, err error) {
	ctx = a.context(ctx)
	a.logger.Debug("App.Run method started.")

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "burstflow",
		ServiceVersion: Version,
		TraceExporter:  a.config.TraceExporter,
		MetricExporter: a.config.MetricExporter,
		TraceWriter:    a.outW,
	})
	if err != nil {
		return res, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if terr := tel.Shutdown(sctx); terr != nil {
			a.logger.Warn("Telemetry shutdown failed.", "error", terr)
		}
	}()

	if err := a.Load(ctx); err != nil {
		return res, err
	}
	if err := a.openStore(ctx); err != nil {
		return res, err
	}
	defer func() {
		if cerr := a.closeStore(); cerr != nil && err == nil {
			err = fmt.Errorf("close checkpoint store: %w", cerr)
		}
	}()

	if a.config.Resume {
		if err := a.restore(ctx); err != nil {
			return res, err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	if a.config.HealthcheckPort > 0 {
		a.startServer(gctx, g, tel)
	}

	if err := a.launch(ctx); err != nil {
		stop()
		_ = g.Wait()
		return res, err
	}

	// The run settles on its own after ctx is cancelled; wait for that.
	waitErr := a.wf.Wait(context.WithoutCancel(ctx))
	a.checkpoint(ctx)
	res = a.wf.Result(ctx)
	a.logger.Info("🏁 Execution finished.", "run_id", res.RunID, "status", res.Status, "completed", res.CompletedTasks, "failed", res.FailedTasks, "cancelled", res.CancelledTasks, "duration", res.ExecutionTime)
	for _, id := range res.ExecutionOrder {
		if out, ok := res.Outputs[id]; ok {
			a.logger.Info("Task output.", "task", id, "output", out)
		}
	}

	stop()
	if serr := g.Wait(); serr != nil {
		a.logger.Warn("Control server stopped with error.", "error", serr)
	}
	a.logger.Debug("App.Run method finished.")
	return res, waitErr
}

// launch starts a fresh run or continues a restored one.
func (a *App) launch(ctx context.Context) error {
	switch agg := a.wf.Status(ctx).Aggregate; {
	case agg == nodestore.Idle:
		a.logger.Info("🚀 Starting concurrent execution...", "run_id", a.wf.RunID(), "tasks", len(a.model.Tasks))
		return a.wf.Start(ctx)
	case agg.Terminal():
		a.logger.Info("Restored run has already finished.", "run_id", a.wf.RunID(), "status", agg)
		return nil
	default:
		a.logger.Info("🚀 Resuming execution...", "run_id", a.wf.RunID(), "from", agg)
		return a.wf.Resume(ctx)
	}
}

// restore loads the checkpoint named by Config.RunID, or the latest one,
// into the workflow.
func (a *App) restore(ctx context.Context) error {
	if a.store == nil {
		return errors.New("resume requires a state path")
	}
	snap, err := a.store.Load(ctx, a.config.RunID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := a.wf.Restore(ctx, snap); err != nil {
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	return nil
}
