package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/burstflow/internal/app"
	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/specialistvlad/burstflow/internal/workflow"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitFailure   = 1
	ExitUsage     = 2
	ExitCancelled = 3
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// flags holds the values bound to command-line flags.
type flags struct {
	logFormat       string
	logLevel        string
	healthcheckPort int
	maxConcurrency  int
	statePath       string
	stateBackend    string
	runID           string
	traceExporter   string
	metricExporter  string
}

func (f *flags) config(path string, resume bool) (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		WorkflowPath:    path,
		StatePath:       f.statePath,
		StateBackend:    f.stateBackend,
		RunID:           f.runID,
		Resume:          resume,
		LogFormat:       f.logFormat,
		LogLevel:        f.logLevel,
		HealthcheckPort: f.healthcheckPort,
		MaxConcurrency:  f.maxConcurrency,
		TraceExporter:   f.traceExporter,
		MetricExporter:  f.metricExporter,
	})
	if err != nil {
		return nil, usageError(err)
	}
	slog.Debug("CLI parameter validation complete.", "config", cfg)
	return cfg, nil
}

// NewRootCommand builds the command tree. Output of every command goes to
// outW. With no modules given the application registers its core modules.
func NewRootCommand(outW io.Writer, modules ...registry.Module) *cobra.Command {
	f := &flags{}

	runWorkflow := func(cmd *cobra.Command, path string, resume bool) error {
		cfg, err := f.config(path, resume)
		if err != nil {
			return err
		}
		a, err := app.NewApp(outW, cfg, modules...)
		if err != nil {
			return err
		}
		res, err := a.Run(cmd.Context())
		if res.RunID != "" {
			if perr := printJSON(outW, res); perr != nil {
				return perr
			}
		}
		return err
	}

	root := &cobra.Command{
		Use:   "burstflow [flags] [WORKFLOW_PATH]",
		Short: "Run DAG workflows of dependent tasks",
		Long: `BurstFlow runs a workflow of dependent tasks with bounded concurrency,
retries with backoff, pause/resume/cancel control and checkpointing.

WORKFLOW_PATH is a .hcl, .yaml, .yml or .json file, or a directory of them.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				slog.Debug("No workflow path provided, printing usage and exiting.")
				return cmd.Help()
			}
			return runWorkflow(cmd, args[0], false)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP control server. 0 is disabled.")
	pf.IntVar(&f.maxConcurrency, "max-concurrency", 0, "Override the workflow's max concurrency. 0 keeps the file's value.")
	pf.StringVar(&f.statePath, "state", "", "Checkpoint file (file backend) or directory (badger backend). Empty disables checkpoints.")
	pf.StringVar(&f.stateBackend, "state-backend", "file", "Checkpoint backend. Options: 'file' or 'badger'.")
	pf.StringVar(&f.runID, "run-id", "", "Run id of a new run, or the run to resume or inspect. Empty means generated or latest.")
	pf.StringVar(&f.traceExporter, "trace-exporter", "none", "Trace exporter. Options: 'none' or 'stdout'.")
	pf.StringVar(&f.metricExporter, "metric-exporter", "prometheus", "Metric exporter served on /metrics. Options: 'none' or 'prometheus'.")

	root.AddCommand(
		&cobra.Command{
			Use:   "run WORKFLOW_PATH",
			Short: "Start a new run of a workflow",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWorkflow(cmd, args[0], false)
			},
		},
		&cobra.Command{
			Use:   "resume WORKFLOW_PATH",
			Short: "Continue a run from its checkpoint (requires --state)",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWorkflow(cmd, args[0], true)
			},
		},
		&cobra.Command{
			Use:   "validate WORKFLOW_PATH",
			Short: "Check a workflow's graph and task arguments without running it",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := f.config(args[0], false)
				if err != nil {
					return err
				}
				a, err := app.NewApp(outW, cfg, modules...)
				if err != nil {
					return err
				}
				if err := a.Validate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(outW, "Workflow is valid: %d task(s).\n", len(a.Model().Tasks))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the stored checkpoint of a run (requires --state)",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				if f.statePath == "" {
					return usageError(errors.New("status requires --state"))
				}
				snap, err := app.ReadSnapshot(cmd.Context(), f.stateBackend, f.statePath, f.runID)
				if err != nil {
					return err
				}
				return printJSON(outW, snap)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  exactArgs(0),
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(outW, app.Version)
			},
		},
	)
	return root
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// Execute runs the command line in args. Cancelled and timed-out runs come
// back as an ExitError with ExitCancelled.
func Execute(ctx context.Context, outW io.Writer, args []string, modules ...registry.Module) error {
	slog.Debug("CLI parser started.")
	root := NewRootCommand(outW, modules...)
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(outW)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if errors.Is(err, workflow.ErrCancelled) {
		return &ExitError{Code: ExitCancelled, Message: err.Error()}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
