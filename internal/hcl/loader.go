package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/burstflow/internal/config"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/fsutil"
)

// Extension is the file extension the loader picks up while walking paths.
const Extension = ".hcl"

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

var _ config.Loader = (*Loader)(nil)

// Load parses every .hcl file under paths and merges them into one model.
// Task instances from `count` are expanded and dependencies on counted tasks
// are resolved after all files are read, so a task may depend on one
// declared in another file.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, Extension)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found in %v", Extension, paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	model := &config.Model{}
	var blocks []*taskBlock

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if len(root.Workflows) > 1 {
			return nil, fmt.Errorf("file %s: at most one workflow block is allowed, found %d", file, len(root.Workflows))
		}
		for _, wf := range root.Workflows {
			settings, err := translateSettings(wf)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", file, err)
			}
			model.Merge(&config.Model{Settings: settings})
		}
		blocks = append(blocks, root.Tasks...)
	}

	tasks, err := l.expandTasks(ctx, blocks)
	if err != nil {
		return nil, err
	}
	model.Tasks = tasks

	if err := model.Check(); err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "files", len(files), "blocks", len(blocks), "tasks", len(model.Tasks))
	return model, nil
}
