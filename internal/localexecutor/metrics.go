package localexecutor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("burstflow.dispatcher")
	meter  = otel.Meter("burstflow.dispatcher")
)

type instruments struct {
	once      sync.Once
	attempts  metric.Int64Counter
	successes metric.Int64Counter
	failures  metric.Int64Counter
	retries   metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
	duration  metric.Float64Histogram
}

// init creates the instruments on first use. Failures degrade to no-op
// instruments from the global provider and are logged once.
func (m *instruments) init(ctx context.Context) {
	m.once.Do(func() {
		var initErrors []string
		var err error

		m.attempts, err = meter.Int64Counter("burstflow_task_attempts_total",
			metric.WithDescription("Task attempts started"))
		if err != nil {
			initErrors = append(initErrors, "attempts: "+err.Error())
		}
		m.successes, err = meter.Int64Counter("burstflow_task_success_total",
			metric.WithDescription("Tasks that succeeded"))
		if err != nil {
			initErrors = append(initErrors, "successes: "+err.Error())
		}
		m.failures, err = meter.Int64Counter("burstflow_task_failure_total",
			metric.WithDescription("Tasks that failed permanently"))
		if err != nil {
			initErrors = append(initErrors, "failures: "+err.Error())
		}
		m.retries, err = meter.Int64Counter("burstflow_task_retry_total",
			metric.WithDescription("Failed attempts scheduled for retry"))
		if err != nil {
			initErrors = append(initErrors, "retries: "+err.Error())
		}
		m.inFlight, err = meter.Int64UpDownCounter("burstflow_tasks_in_flight",
			metric.WithDescription("Attempts currently executing"))
		if err != nil {
			initErrors = append(initErrors, "in_flight: "+err.Error())
		}
		m.duration, err = meter.Float64Histogram("burstflow_task_attempt_duration_seconds",
			metric.WithDescription("Duration of a single task attempt"),
			metric.WithUnit("s"))
		if err != nil {
			initErrors = append(initErrors, "duration: "+err.Error())
		}

		if len(initErrors) > 0 {
			ctxlog.FromContext(ctx).Error("Failed to initialize some dispatcher metrics.",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func taskAttrs(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("task", id))
}
