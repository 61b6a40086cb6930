package yamlconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/specialistvlad/burstflow/internal/config"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions the loader accepts.
var Extensions = []string{".yaml", ".yml", ".json"}

// Loader is the YAML/JSON implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new task-list loader.
func NewLoader() *Loader {
	return &Loader{}
}

var _ config.Loader = (*Loader)(nil)

type document struct {
	Workflow *workflowDoc `yaml:"workflow"`
	Tasks    []taskDoc    `yaml:"tasks"`
}

type workflowDoc struct {
	Name           string   `yaml:"name"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	FailurePolicy  string   `yaml:"failure_policy"`
	Timeout        duration `yaml:"timeout"`
	TaskTimeout    duration `yaml:"task_timeout"`
	DispatchRate   float64  `yaml:"dispatch_rate"`
	DispatchBurst  int      `yaml:"dispatch_burst"`
	Retry          retryDoc `yaml:"retry"`
}

type retryDoc struct {
	BaseDelay   duration `yaml:"base_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	MaxDelay    duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

type taskDoc struct {
	ID           string         `yaml:"id"`
	Dependencies []string       `yaml:"dependencies"`
	Priority     int            `yaml:"priority"`
	MaxAttempts  int            `yaml:"max_attempts"`
	Timeout      duration       `yaml:"timeout"`
	Description  string         `yaml:"description"`
	Runner       string         `yaml:"runner"`
	Arguments    map[string]any `yaml:"arguments"`
	Payload      any            `yaml:"payload"`
}

// duration accepts Go duration strings ("1.5s") or plain numbers of seconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = duration(secs * float64(time.Second))
	return nil
}

// Load reads every matching file under paths, in path order, and merges them.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, Extensions...)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no task list files found in %v", paths)
	}

	model := &config.Model{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		m, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", file, err)
		}
		model.Merge(m)
		logger.Debug("Loaded task list.", "file", file, "tasks", len(m.Tasks))
	}

	if err := model.Check(); err != nil {
		return nil, err
	}
	return model, nil
}

// Parse decodes a single document. Unknown keys are rejected.
func Parse(data []byte) (*config.Model, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	m := &config.Model{Tasks: make([]*config.Task, 0, len(doc.Tasks))}
	if wf := doc.Workflow; wf != nil {
		m.Settings = config.Settings{
			Name:           wf.Name,
			MaxConcurrency: wf.MaxConcurrency,
			FailurePolicy:  wf.FailurePolicy,
			Timeout:        time.Duration(wf.Timeout),
			TaskTimeout:    time.Duration(wf.TaskTimeout),
			DispatchRate:   wf.DispatchRate,
			DispatchBurst:  wf.DispatchBurst,
			Retry: config.Retry{
				BaseDelay:   time.Duration(wf.Retry.BaseDelay),
				Multiplier:  wf.Retry.Multiplier,
				MaxDelay:    time.Duration(wf.Retry.MaxDelay),
				MaxAttempts: wf.Retry.MaxAttempts,
			},
		}
	}

	for _, td := range doc.Tasks {
		t := &config.Task{
			ID:           td.ID,
			Dependencies: td.Dependencies,
			Priority:     td.Priority,
			MaxAttempts:  td.MaxAttempts,
			Timeout:      time.Duration(td.Timeout),
			Description:  td.Description,
			Runner:       td.Runner,
			Arguments:    td.Arguments,
		}
		if t.Runner == "" {
			t.Runner = config.DefaultRunner
		}
		if td.Payload != nil {
			if t.Arguments == nil {
				t.Arguments = make(map[string]any, 1)
			}
			t.Arguments["payload"] = td.Payload
		}
		m.Tasks = append(m.Tasks, t)
	}
	return m, nil
}
