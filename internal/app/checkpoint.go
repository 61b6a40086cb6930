package app

import (
	"context"

	"github.com/specialistvlad/burstflow/internal/checkpoint"
	"github.com/specialistvlad/burstflow/internal/workflow"
)

// observe logs run transitions and checkpoints the run after each of them.
func (a *App) observe(ev workflow.Event) {
	switch ev.Kind {
	case workflow.TaskStarted:
		a.logger.Debug("Task started.", "task", ev.TaskID, "attempt", ev.Attempt)
	case workflow.TaskSucceeded:
		a.logger.Info("✅ Task succeeded.", "task", ev.TaskID, "attempt", ev.Attempt)
	case workflow.TaskRetrying:
		a.logger.Warn("Task failed, retrying.", "task", ev.TaskID, "attempt", ev.Attempt, "delay", ev.Delay, "error", ev.Err)
	case workflow.TaskFailed:
		a.logger.Error("❌ Task failed.", "task", ev.TaskID, "attempt", ev.Attempt, "error", ev.Err)
	case workflow.TaskCancelled:
		a.logger.Debug("Task cancelled.", "task", ev.TaskID)
	case workflow.AggregateChanged:
		a.logger.Debug("Workflow status changed.", "status", ev.Aggregate)
	}
	a.checkpoint(context.Background())
}

// checkpoint saves the current snapshot when a store is open. Failures are
// logged; they never stop the run.
func (a *App) checkpoint(ctx context.Context) {
	a.ckptMu.Lock()
	defer a.ckptMu.Unlock()
	if a.store == nil || a.wf == nil {
		return
	}

	snap := a.wf.Snapshot(ctx)
	if err := a.store.Save(ctx, snap); err != nil {
		a.logger.Error("Failed to save checkpoint.", "run_id", snap.RunID, "error", err)
		return
	}
	a.logger.Debug("Checkpoint saved.", "run_id", snap.RunID, "status", snap.AggregateStatus)
}

// openStore opens the configured checkpoint store, if any.
func (a *App) openStore(ctx context.Context) error {
	if a.config.StatePath == "" {
		return nil
	}
	store, err := checkpoint.Open(ctx, checkpoint.Backend(a.config.StateBackend), a.config.StatePath, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.logger.Debug("Checkpoint store opened.", "backend", a.config.StateBackend, "path", a.config.StatePath)
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	a.ckptMu.Lock()
	defer a.ckptMu.Unlock()
	err := a.store.Close()
	a.store = nil
	return err
}
