package policyengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// checkDeterministic rejects an operator-authored rule expression that
// could evaluate differently across runs of the same action: a CEL
// program here is a security gate, not a general-purpose script, and a
// rule whose BLOCK/WARN verdict depends on wall-clock time or map
// iteration order would make the interceptor's decision unreproducible.
func checkDeterministic(ast *cel.Ast) error {
	var issues []string
	walkExpr(ast.Expr(), &issues)
	if len(issues) > 0 {
		return fmt.Errorf("policyengine: non-deterministic rule: %v", issues)
	}
	return nil
}

func walkExpr(e *exprpb.Expr, issues *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			*issues = append(*issues, "floating point literals are forbidden")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*issues = append(*issues, "now() is forbidden")
		case "keys", "values":
			*issues = append(*issues, "map iteration (keys/values) is forbidden")
		}
		if call.Target != nil {
			walkExpr(call.Target, issues)
		}
		for _, arg := range call.Args {
			walkExpr(arg, issues)
		}

	case *exprpb.Expr_SelectExpr:
		walkExpr(k.SelectExpr.Operand, issues)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walkExpr(el, issues)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walkExpr(entry.GetMapKey(), issues)
			}
			walkExpr(entry.Value, issues)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walkExpr(comp.IterRange, issues)
		walkExpr(comp.AccuInit, issues)
		walkExpr(comp.LoopCondition, issues)
		walkExpr(comp.LoopStep, issues)
		walkExpr(comp.Result, issues)
	}
}
