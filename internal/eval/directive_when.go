package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// evalWhen implements the /when directive (§4.5): inline `when @cond =>
// action`, array `when [patterns]` (evaluate every matching pattern's
// action, in order), and `when first [patterns]` (stop at the first
// match). `*` matches unconditionally. A directive-form when discards any
// action results; only its effects matter.
func (ev *Evaluator) evalWhen(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	w, _ := d.Fields["when"].(*ast.WhenExpression)
	if w == nil {
		return mllderr.New(mllderr.InvalidDirective, "/when requires pattern(s)").At(loc(d.Loc()))
	}
	_, err := ev.evalWhenExpr(ctx, env, w)
	return err
}

// evalWhenExpr evaluates a WhenExpression as an expression: the value of
// the first matched action, in both forms (the bare form still runs every
// matching action's effects, but returns the first's value). No match
// yields an empty text value and emits nothing.
func (ev *Evaluator) evalWhenExpr(ctx context.Context, env *environment.Environment, w *ast.WhenExpression) (*variable.Variable, error) {
	var result *variable.Variable
	matched := false

	for _, p := range w.Patterns {
		isWild := p.Cond == nil
		matches := isWild
		if !matches {
			cond, err := ev.evalNode(ctx, env, p.Cond)
			if err != nil {
				return nil, err
			}
			matches = truthy(cond)
		}
		if !matches {
			continue
		}
		v, err := ev.evalNode(ctx, env, p.Action)
		if err != nil {
			return nil, err
		}
		if !matched {
			result = v
			matched = true
		}
		if w.First {
			break
		}
	}

	if !matched {
		return variable.CreateSimpleText("", "", variable.Source{}, variable.Options{}), nil
	}
	return result, nil
}
