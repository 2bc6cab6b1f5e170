package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/agentic-research/paleodem/api"
)

// Variable is the only name a formula may reference: the cell value.
const Variable = "x"

var sqrtFunc = function.New(&function.Spec{
	Description: "Returns the square root of the given number.",
	Params:      []function.Parameter{{Name: "num", Type: cty.Number}},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		f, _ := args[0].AsBigFloat().Float64()
		if f < 0 {
			return cty.NilVal, fmt.Errorf("square root of negative number %g", f)
		}
		return cty.NumberFloatVal(math.Sqrt(f)), nil
	},
})

// functions is the whitelist available to formulas.
var functions = map[string]function.Function{
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
	"log":    stdlib.LogFunc,
	"max":    stdlib.MaxFunc,
	"min":    stdlib.MinFunc,
	"pow":    stdlib.PowFunc,
	"signum": stdlib.SignumFunc,
	"sqrt":   sqrtFunc,
}

// ErrNoVariable marks a formula that never references x. Such rules are
// skipped rather than failing the run.
var ErrNoVariable = fmt.Errorf("formula does not reference %q", Variable)

// Expr is a compiled formula over the single variable x.
type Expr struct {
	src  string
	expr hclsyntax.Expression
}

// Compile parses src as an HCL arithmetic expression. It fails with a
// ValidationError if src references any variable other than x or calls a
// function outside the whitelist, and with ErrNoVariable if x is never used.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrNoVariable
	}
	expr, diags := hclsyntax.ParseExpression([]byte(src), "formula", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, api.Invalid("compile formula", "%q: %s", src, diags.Error())
	}

	usesX := false
	for _, trav := range expr.Variables() {
		name := trav.RootName()
		if name != Variable {
			return nil, api.Invalid("compile formula", "%q: unknown name %q (only %q is allowed)", src, name, Variable)
		}
		if len(trav) > 1 {
			return nil, api.Invalid("compile formula", "%q: %q is a number and has no attributes", src, Variable)
		}
		usesX = true
	}

	var bad []string
	_ = hclsyntax.VisitAll(expr, func(n hclsyntax.Node) hcl.Diagnostics {
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok {
			if _, allowed := functions[call.Name]; !allowed {
				bad = append(bad, call.Name)
			}
		}
		return nil
	})
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, api.Invalid("compile formula", "%q: functions not allowed: %s", src, strings.Join(bad, ", "))
	}
	if !usesX {
		return nil, ErrNoVariable
	}
	return &Expr{src: src, expr: expr}, nil
}

// String returns the formula source.
func (e *Expr) String() string { return e.src }

// Eval evaluates the formula with x bound to v. v must be finite.
func (e *Expr) Eval(v float64) (float64, error) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{Variable: cty.NumberFloatVal(v)},
		Functions: functions,
	}
	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return 0, fmt.Errorf("evaluate %q at x=%g: %s", e.src, v, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return 0, fmt.Errorf("evaluate %q at x=%g: result is not a number", e.src, v)
	}
	f, _ := val.AsBigFloat().Float64()
	return f, nil
}
