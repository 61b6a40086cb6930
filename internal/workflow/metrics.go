package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("burstflow.workflow")
	meter  = otel.Meter("burstflow.workflow")
)

var (
	metricsOnce  sync.Once
	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	controlTotal metric.Int64Counter
)

func initMetrics(ctx context.Context) {
	metricsOnce.Do(func() {
		var initErrors []string
		var err error

		runsTotal, err = meter.Int64Counter("burstflow_workflow_runs_total",
			metric.WithDescription("Workflow runs by final status"))
		if err != nil {
			initErrors = append(initErrors, "runs_total: "+err.Error())
		}
		runDuration, err = meter.Float64Histogram("burstflow_workflow_duration_seconds",
			metric.WithDescription("Wall-clock duration of workflow runs"),
			metric.WithUnit("s"))
		if err != nil {
			initErrors = append(initErrors, "duration: "+err.Error())
		}
		controlTotal, err = meter.Int64Counter("burstflow_workflow_control_total",
			metric.WithDescription("Control operations by name and outcome"))
		if err != nil {
			initErrors = append(initErrors, "control_total: "+err.Error())
		}

		if len(initErrors) > 0 {
			ctxlog.FromContext(ctx).Error("Failed to initialize some workflow metrics.",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
