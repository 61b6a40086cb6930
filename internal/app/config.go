package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/specialistvlad/burstflow/internal/checkpoint"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// WorkflowPath is a workflow file or a directory of them.
	WorkflowPath string `validate:"required"`
	// StatePath is where checkpoints go. Empty disables checkpointing.
	StatePath    string `validate:"required_if=Resume true"`
	StateBackend string `validate:"omitempty,oneof=file badger"`
	// RunID fixes the run id of a new run, or picks the run to resume.
	RunID  string
	Resume bool

	LogFormat       string `validate:"oneof=text json"`
	LogLevel        string `validate:"oneof=debug info warn error"`
	HealthcheckPort int    `validate:"gte=0,lte=65535"`
	// MaxConcurrency overrides the workflow file when positive.
	MaxConcurrency int    `validate:"gte=0"`
	TraceExporter  string `validate:"omitempty,oneof=none stdout"`
	MetricExporter string `validate:"omitempty,oneof=none prometheus"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig fills defaults and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = string(checkpoint.BackendFile)
	}
	if cfg.MetricExporter == "" {
		cfg.MetricExporter = "prometheus"
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return &cfg, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is a required configuration field and cannot be empty", fe.Field())
	case "required_if":
		return fmt.Sprintf("%s is required when resuming", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed the %q check (value %v)", fe.Field(), fe.Tag(), fe.Value())
	}
}
