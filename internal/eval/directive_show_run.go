package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/emitter"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
)

func (ev *Evaluator) evalShow(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	expr, _ := d.Fields["expr"].(ast.Node)
	if expr == nil {
		return mllderr.New(mllderr.InvalidDirective, "/show requires an expression").At(loc(d.Loc()))
	}
	v, err := ev.evalNode(ctx, env, expr)
	if err != nil {
		return err
	}
	text := stringify(v)
	if v.Internal.IsPipelineResult && alreadyStreamed(env, text) {
		return nil
	}
	env.EmitIntent(emitter.Content(text, emitter.SourceDirective, emitter.VisibilityAlways))
	return nil
}

// alreadyStreamed dedups pipeline-streamed content: a stage's streaming
// path already pushed its text verbatim as a pipeline-sourced intent, so
// /show only needs to skip re-emitting the exact same text from that
// source (§4.6 "does not re-emit already-streamed content").
func alreadyStreamed(env *environment.Environment, text string) bool {
	for _, in := range env.Intents() {
		if in.Source == emitter.SourcePipeline && in.Text == text {
			return true
		}
	}
	return false
}

func (ev *Evaluator) evalRun(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	expr, _ := d.Fields["expr"].(ast.Node)
	if expr == nil {
		return mllderr.New(mllderr.InvalidDirective, "/run requires a command or code body").At(loc(d.Loc()))
	}
	_, err := ev.evalNode(ctx, env, expr)
	return err
}
