package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/specialistvlad/burstflow/internal/checkpoint"
	"github.com/specialistvlad/burstflow/internal/config"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/nodestore"
	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/specialistvlad/burstflow/internal/workflow"
)

// Version is reported by the health endpoint and in telemetry resources.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry

	model *config.Model
	wf    *workflow.Workflow
	store checkpoint.Store

	// ckptMu serializes checkpoint writes coming from concurrent observers.
	ckptMu sync.Mutex

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger and a validated registry. With no modules
// given, the core modules are registered.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(outW)
	}
	reg.RegisterModules(ctx, modules...)

	if err := reg.ValidateRegistry(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Registry validation passed.", "runners", reg.Names())

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		registry: reg,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Workflow returns the loaded workflow, or nil before Load.
func (a *App) Workflow() *workflow.Workflow {
	return a.wf
}

// Model returns the loaded configuration model, or nil before Load.
func (a *App) Model() *config.Model {
	return a.model
}

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// ReadSnapshot loads a persisted snapshot without building an App.
func ReadSnapshot(ctx context.Context, backend, path, runID string) (snap nodestore.Snapshot, err error) {
	store, err := checkpoint.Open(ctx, checkpoint.Backend(backend), path, nil)
	if err != nil {
		return snap, err
	}
	defer func() {
		if cerr := store.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close checkpoint store: %w", cerr)
		}
	}()
	return store.Load(ctx, runID)
}
