package hcl

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// functions are the built-ins available to every expression.
var functions = map[string]function.Function{
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"trimspace":  stdlib.TrimSpaceFunc,
	"format":     stdlib.FormatFunc,
	"join":       stdlib.JoinFunc,
	"split":      stdlib.SplitFunc,
	"length":     stdlib.LengthFunc,
	"concat":     stdlib.ConcatFunc,
	"min":        stdlib.MinFunc,
	"max":        stdlib.MaxFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"range":      stdlib.RangeFunc,
}

// evalContext builds the scope for one task instance. index is negative for
// tasks without `count`, in which case `count.index` is not defined.
func evalContext(index int) *hcl.EvalContext {
	vars := map[string]cty.Value{}
	if index >= 0 {
		vars["count"] = cty.ObjectVal(map[string]cty.Value{
			"index": cty.NumberIntVal(int64(index)),
		})
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}
}

// isExprDefined checks if an HCL expression was actually present in the source
// code. gohcl populates omitted optional fields with zero-width expressions,
// so a nil check is insufficient.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checked HCL attribute presence.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}
