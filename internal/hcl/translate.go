package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/burstflow/internal/config"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/ctyconv"
	"github.com/specialistvlad/burstflow/internal/nodeid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// translateSettings converts the HCL workflow block into the agnostic model.
func translateSettings(wf *workflowBlock) (config.Settings, error) {
	s := config.Settings{
		Name:           wf.Name,
		MaxConcurrency: wf.MaxConcurrency,
		FailurePolicy:  wf.FailurePolicy,
		DispatchRate:   wf.DispatchRate,
		DispatchBurst:  wf.DispatchBurst,
	}
	var err error
	if s.Timeout, err = parseDuration("timeout", wf.Timeout); err != nil {
		return s, err
	}
	if s.TaskTimeout, err = parseDuration("task_timeout", wf.TaskTimeout); err != nil {
		return s, err
	}
	if r := wf.Retry; r != nil {
		s.Retry.Multiplier = r.Multiplier
		s.Retry.MaxAttempts = r.MaxAttempts
		if s.Retry.BaseDelay, err = parseDuration("retry.base_delay", r.BaseDelay); err != nil {
			return s, err
		}
		if s.Retry.MaxDelay, err = parseDuration("retry.max_delay", r.MaxDelay); err != nil {
			return s, err
		}
	}
	return s, nil
}

func parseDuration(attr, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", attr, raw, err)
	}
	return d, nil
}

// expandTasks turns task blocks into task instances and resolves their
// dependencies. Blocks keep their declaration order; instances of a counted
// block follow each other in index order.
func (l *Loader) expandTasks(ctx context.Context, blocks []*taskBlock) ([]*config.Task, error) {
	logger := ctxlog.FromContext(ctx)

	// counts maps a counted block name to its instance count. Uncounted
	// blocks are absent.
	counts := make(map[string]int)
	type instance struct {
		task *config.Task
		deps []string
	}
	var instances []instance

	for _, b := range blocks {
		ref, err := nodeid.Parse(b.ID)
		if err != nil || ref.HasIndex() {
			return nil, diagError(b.Range, "Invalid task name",
				fmt.Sprintf("The task name %q must be a plain identifier without an index.", b.ID))
		}

		n, counted, err := evalCount(ctx, b)
		if err != nil {
			return nil, err
		}
		if counted {
			counts[b.ID] = n
			logger.Debug("Expanding counted task.", "task", b.ID, "count", n)
		} else {
			n = 1
		}

		for i := 0; i < n; i++ {
			index, id := -1, b.ID
			if counted {
				index, id = i, nodeid.Indexed(b.ID, i).String()
			}
			t, deps, err := translateInstance(ctx, b, id, evalContext(index))
			if err != nil {
				return nil, err
			}
			instances = append(instances, instance{task: t, deps: deps})
		}
	}

	tasks := make([]*config.Task, 0, len(instances))
	for _, inst := range instances {
		deps, err := resolveDependencies(inst.deps, counts)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", inst.task.ID, err)
		}
		inst.task.Dependencies = deps
		tasks = append(tasks, inst.task)
	}
	return tasks, nil
}

// evalCount evaluates the optional `count` attribute. It must be a whole,
// non-negative number known without any variables.
func evalCount(ctx context.Context, b *taskBlock) (int, bool, error) {
	if !isExprDefined(ctx, b.Count, "count") {
		return 0, false, nil
	}
	subject := b.Count.Range()

	val, diags := b.Count.Value(evalContext(-1))
	if diags.HasErrors() {
		return 0, false, fmt.Errorf("task %q: %w", b.ID, diags)
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return 0, false, diagError(subject, "Invalid count value", "The 'count' attribute must be a number.")
	}
	bf := val.AsBigFloat()
	if !bf.IsInt() {
		return 0, false, diagError(subject, "Invalid count value", "The 'count' attribute must be a whole number.")
	}
	n, _ := bf.Int64()
	if n < 0 {
		return 0, false, diagError(subject, "Invalid count value", "The 'count' attribute must not be negative.")
	}
	return int(n), true, nil
}

// translateInstance evaluates a block's per-instance expressions. The
// returned dependencies are raw references, resolved once every block is
// known.
func translateInstance(ctx context.Context, b *taskBlock, id string, evalCtx *hcl.EvalContext) (*config.Task, []string, error) {
	t := &config.Task{
		ID:          id,
		Runner:      b.Runner,
		Priority:    b.Priority,
		MaxAttempts: b.MaxAttempts,
	}
	if t.Runner == "" {
		t.Runner = config.DefaultRunner
	}
	var err error
	if t.Timeout, err = parseDuration("timeout", b.Timeout); err != nil {
		return nil, nil, fmt.Errorf("task %q: %w", id, err)
	}

	if isExprDefined(ctx, b.Description, "description") {
		val, diags := b.Description.Value(evalCtx)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("task %q: %w", id, diags)
		}
		str, err := convert.Convert(val, cty.String)
		if err != nil || str.IsNull() {
			return nil, nil, diagError(b.Description.Range(), "Invalid description", "The 'description' attribute must be a string.")
		}
		t.Description = str.AsString()
	}

	var deps []string
	if isExprDefined(ctx, b.DependsOn, "depends_on") {
		val, diags := b.DependsOn.Value(evalCtx)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("task %q: %w", id, diags)
		}
		list, err := convert.Convert(val, cty.List(cty.String))
		if err != nil || list.IsNull() {
			return nil, nil, diagError(b.DependsOn.Range(), "Invalid depends_on", "The 'depends_on' attribute must be a list of task names.")
		}
		for it := list.ElementIterator(); it.Next(); {
			_, v := it.Element()
			deps = append(deps, v.AsString())
		}
	}

	if b.Arguments != nil && b.Arguments.Body != nil {
		attrs, diags := b.Arguments.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("task %q arguments: %w", id, diags)
		}
		t.Arguments = make(map[string]any, len(attrs))
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(evalCtx)
			if diags.HasErrors() {
				return nil, nil, fmt.Errorf("task %q argument %q: %w", id, name, diags)
			}
			native, err := ctyconv.ToNative(val)
			if err != nil {
				return nil, nil, fmt.Errorf("task %q argument %q: %w", id, name, err)
			}
			t.Arguments[name] = native
		}
	}
	return t, deps, nil
}

// resolveDependencies expands references to counted tasks. A bare name of a
// counted task stands for all of its instances; anything else is passed
// through for the graph validator to check.
func resolveDependencies(raw []string, counts map[string]int) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	add := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, r := range raw {
		ref, err := nodeid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency: %w", err)
		}
		n, counted := counts[ref.Name]
		switch {
		case counted && !ref.HasIndex():
			for i := 0; i < n; i++ {
				add(nodeid.Indexed(ref.Name, i).String())
			}
		case !counted && ref.HasIndex():
			return nil, fmt.Errorf("dependency %q indexes task %q, which has no count", r, ref.Name)
		default:
			add(ref.String())
		}
	}
	return out, nil
}

// diagError wraps a single diagnostic into an error, like the HCL decoder does.
func diagError(subject hcl.Range, summary, detail string) error {
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  subject.Ptr(),
	}}
}
