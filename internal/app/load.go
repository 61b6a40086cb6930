package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/burstflow/internal/config"
	"github.com/specialistvlad/burstflow/internal/fsutil"
	"github.com/specialistvlad/burstflow/internal/hcl"
	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/specialistvlad/burstflow/internal/retry"
	"github.com/specialistvlad/burstflow/internal/task"
	"github.com/specialistvlad/burstflow/internal/workflow"
	"github.com/specialistvlad/burstflow/internal/yamlconfig"
)

// loaderFor picks the configuration format for path. A directory holding
// any .hcl file is read as HCL, any other directory as YAML/JSON.
func loaderFor(path string) (config.Loader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access workflow path: %w", err)
	}
	if info.IsDir() {
		found, err := fsutil.FindFilesByExtension(path, hcl.Extension)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return hcl.NewLoader(), nil
		}
		return yamlconfig.NewLoader(), nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == hcl.Extension {
		return hcl.NewLoader(), nil
	}
	for _, e := range yamlconfig.Extensions {
		if ext == e {
			return yamlconfig.NewLoader(), nil
		}
	}
	return nil, fmt.Errorf("unsupported workflow file %s: expected %s or one of %s", path, hcl.Extension, strings.Join(yamlconfig.Extensions, ", "))
}

// Load reads the workflow configuration and builds the workflow. It does not
// start anything.
func (a *App) Load(ctx context.Context) error {
	ctx = a.context(ctx)

	loader, err := loaderFor(a.config.WorkflowPath)
	if err != nil {
		return err
	}
	model, err := loader.Load(ctx, a.config.WorkflowPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.logger.Debug("Configuration loaded into unified model.", "tasks", len(model.Tasks))

	defs, err := a.buildDefinitions(ctx, model)
	if err != nil {
		return err
	}
	opts, err := a.buildOptions(model.Settings)
	if err != nil {
		return err
	}

	wf, err := workflow.New(defs, a.registry, opts...)
	if err != nil {
		return err
	}
	a.model = model
	a.wf = wf
	return nil
}

// buildDefinitions turns configured tasks into engine definitions. Every
// invocation is checked against its runner so argument mistakes surface
// before the run.
func (a *App) buildDefinitions(ctx context.Context, model *config.Model) ([]task.Definition, error) {
	defs := make([]task.Definition, 0, len(model.Tasks))
	var errs []error
	for _, t := range model.Tasks {
		inv := registry.Invocation{Runner: t.Runner, Arguments: t.Arguments}
		if err := a.registry.CheckInvocation(ctx, inv); err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", t.ID, err))
		}
		defs = append(defs, task.Definition{
			ID:           t.ID,
			Dependencies: t.Dependencies,
			Priority:     t.Priority,
			MaxAttempts:  t.MaxAttempts,
			Timeout:      t.Timeout,
			Description:  t.Description,
			Payload:      inv,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid task arguments: %w", err)
	}
	return defs, nil
}

func (a *App) buildOptions(s config.Settings) ([]workflow.Option, error) {
	policy, err := workflow.ParseFailurePolicy(s.FailurePolicy)
	if err != nil {
		return nil, err
	}

	maxConcurrency := s.MaxConcurrency
	if a.config.MaxConcurrency > 0 {
		maxConcurrency = a.config.MaxConcurrency
	}
	if maxConcurrency == 0 {
		maxConcurrency = workflow.DefaultMaxConcurrency
	}

	rp := retry.DefaultPolicy()
	if !s.Retry.IsZero() {
		if s.Retry.BaseDelay > 0 {
			rp.BaseDelay = s.Retry.BaseDelay
		}
		if s.Retry.Multiplier > 0 {
			rp.Multiplier = s.Retry.Multiplier
		}
		if s.Retry.MaxDelay > 0 {
			rp.MaxDelay = s.Retry.MaxDelay
		}
		if s.Retry.MaxAttempts > 0 {
			rp.MaxAttempts = s.Retry.MaxAttempts
		}
	}

	opts := []workflow.Option{
		workflow.WithMaxConcurrency(maxConcurrency),
		workflow.WithFailurePolicy(policy),
		workflow.WithRetryPolicy(rp),
		workflow.WithLogger(a.logger),
		workflow.WithObserver(a.observe),
	}
	if s.Timeout > 0 {
		opts = append(opts, workflow.WithTimeout(s.Timeout))
	}
	if s.TaskTimeout > 0 {
		opts = append(opts, workflow.WithTaskTimeout(s.TaskTimeout))
	}
	if s.DispatchRate > 0 {
		opts = append(opts, workflow.WithDispatchRate(s.DispatchRate, s.DispatchBurst))
	}
	if a.config.RunID != "" && !a.config.Resume {
		opts = append(opts, workflow.WithRunID(a.config.RunID))
	}
	return opts, nil
}

// Validate loads the workflow and checks its graph without running it.
func (a *App) Validate(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return err
	}
	if err := a.wf.Validate(a.context(ctx)); err != nil {
		return err
	}
	a.logger.Info("Workflow is valid.", "tasks", len(a.model.Tasks))
	return nil
}
