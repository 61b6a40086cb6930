package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Workflows []*workflowBlock `hcl:"workflow,block"`
	Tasks     []*taskBlock     `hcl:"task,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

// workflowBlock maps the `workflow` settings block.
type workflowBlock struct {
	Name           string      `hcl:"name,optional"`
	MaxConcurrency int         `hcl:"max_concurrency,optional"`
	FailurePolicy  string      `hcl:"failure_policy,optional"`
	Timeout        string      `hcl:"timeout,optional"`
	TaskTimeout    string      `hcl:"task_timeout,optional"`
	DispatchRate   float64     `hcl:"dispatch_rate,optional"`
	DispatchBurst  int         `hcl:"dispatch_burst,optional"`
	Retry          *retryBlock `hcl:"retry,block"`
}

// retryBlock maps the nested `retry` block.
type retryBlock struct {
	BaseDelay   string  `hcl:"base_delay,optional"`
	Multiplier  float64 `hcl:"multiplier,optional"`
	MaxDelay    string  `hcl:"max_delay,optional"`
	MaxAttempts int     `hcl:"max_attempts,optional"`
}

// taskBlock maps a `task "id"` block. Expressions that may reference
// `count.index` are kept raw and evaluated once per instance.
type taskBlock struct {
	ID          string          `hcl:"id,label"`
	Runner      string          `hcl:"runner,optional"`
	Count       hcl.Expression  `hcl:"count,optional"`
	Priority    int             `hcl:"priority,optional"`
	MaxAttempts int             `hcl:"max_attempts,optional"`
	Timeout     string          `hcl:"timeout,optional"`
	Description hcl.Expression  `hcl:"description,optional"`
	DependsOn   hcl.Expression  `hcl:"depends_on,optional"`
	Arguments   *argumentsBlock `hcl:"arguments,block"`
	Range       hcl.Range       `hcl:",def_range"`
}

// argumentsBlock captures the free-form runner arguments.
type argumentsBlock struct {
	Body hcl.Body `hcl:",remain"`
}
