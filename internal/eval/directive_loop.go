package eval

import (
	"context"
	"time"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

func (ev *Evaluator) evalLoop(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	l, _ := d.Fields["loop"].(*ast.LoopExpression)
	if l == nil {
		return mllderr.New(mllderr.InvalidDirective, "/loop requires an until condition and body").At(loc(d.Loc()))
	}
	_, err := ev.evalLoopExpr(ctx, env, l)
	return err
}

// loopSignal is one of the body's `done @v` / `continue @v` statements.
type loopSignal struct {
	done  bool
	value ast.Node
}

func extractLoopSignal(n ast.Node) *loopSignal {
	name, arg, ok := extractSignalCall(n)
	if !ok {
		return nil
	}
	switch name {
	case "done":
		return &loopSignal{done: true, value: arg}
	case "continue":
		return &loopSignal{done: false, value: arg}
	default:
		return nil
	}
}

// evalLoopExpr implements /loop(limit?, pacing?) until cond [ body ] (§4.5):
// @input starts null, updated only by `continue @v`; the loop ends on
// `done @v` (final value v), the until condition becoming true, or the
// iteration limit being reached (endless when Limit <= 0). Pacing throttles
// between iterations.
func (ev *Evaluator) evalLoopExpr(ctx context.Context, env *environment.Environment, l *ast.LoopExpression) (*variable.Variable, error) {
	ctxMgr := env.GetContextManager()
	input := variable.CreatePrimitive("input", variable.Primitive{Kind: variable.PrimitiveNull}, variable.Source{}, variable.Options{})

	iteration := 0
	for {
		if l.Limit > 0 && iteration >= l.Limit {
			ctxMgr.SetLoop(iteration, l.Limit, false)
			return input, nil
		}

		until, err := ev.evalNode(ctx, env, l.Until)
		if err != nil {
			return nil, err
		}
		if truthy(until) {
			ctxMgr.SetLoop(iteration, l.Limit, false)
			return input, nil
		}

		ctxMgr.SetLoop(iteration, l.Limit, true)

		child := env.CreateChild()
		child.SetVariable("input", input)

		v, err := ev.evalNode(ctx, child, l.Body)
		if err != nil {
			return nil, err
		}
		child.FlushIntentsTo(env)

		sig := extractLoopSignal(l.Body)
		if sig != nil {
			val := v
			if sig.value != nil {
				resolved, err := ev.evalNode(ctx, child, sig.value)
				if err != nil {
					return nil, err
				}
				val = resolved
			}
			if sig.done {
				ctxMgr.SetLoop(iteration+1, l.Limit, false)
				return val, nil
			}
			input = val
		}

		iteration++
		if l.Pacing > 0 {
			time.Sleep(time.Duration(l.Pacing))
		}
	}
}
