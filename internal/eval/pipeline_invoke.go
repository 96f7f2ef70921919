package eval

import (
	"context"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/emitter"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/pipeline"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// toPipelineInput wraps a plain Variable as the pipeline-input Variable
// kind RunPipeline expects to thread as @input through stages.
func toPipelineInput(v *variable.Variable) *variable.Variable {
	sv, ok := v.Value.(structured.Value)
	if !ok {
		sv = structured.FromText(stringify(v))
	}
	return variable.CreatePipelineInput(v.Name, sv, v.Source, variable.Options{Security: v.Security})
}

// tailToStage converts one VariableReferenceWithTail.Tail node into a
// pipeline.Stage (§4.7): a bare reference to a builtin name selects the
// matching effect stage, a parse-mode literal ("strict"/"loose"/"llm")
// selects StageParseMode, anything else must name a callable Variable.
func (ev *Evaluator) tailToStage(ctx context.Context, env *environment.Environment, n ast.Node) (pipeline.Stage, error) {
	inv, ok := n.(*ast.ExecInvocation)
	if !ok {
		if lit, ok := n.(*ast.Literal); ok {
			if mode, ok := lit.Value.(string); ok {
				switch mode {
				case "strict", "loose", "llm":
					return pipeline.Stage{Kind: pipeline.StageParseMode, ParseMode: mode}, nil
				}
			}
		}
		return pipeline.Stage{}, mllderr.New(mllderr.InvalidNodeType, "unsupported pipeline stage node %q", n.NodeKind()).At(loc(n.Loc()))
	}

	switch inv.Name {
	case "show":
		return pipeline.Stage{Kind: pipeline.StageBuiltinShow}, nil
	case "log":
		return pipeline.Stage{Kind: pipeline.StageBuiltinLog}, nil
	case "output":
		return pipeline.Stage{Kind: pipeline.StageBuiltinOutput}, nil
	}

	name, variant := inv.Name, ""
	if i := strings.LastIndex(inv.Name, "."); i >= 0 {
		name, variant = inv.Name[:i], inv.Name[i+1:]
	}
	fn, ok := env.GetVariable(name)
	if !ok {
		return pipeline.Stage{}, notFoundWithSuggestion(env, &ast.VariableReference{Name: name})
	}
	if !fn.IsExecutable() {
		return pipeline.Stage{}, mllderr.New(mllderr.InvalidValueType, "pipeline stage %q is not callable", name).At(loc(n.Loc()))
	}

	args := make([]*variable.Variable, 0, len(inv.Positional))
	for _, p := range inv.Positional {
		v, err := ev.evalNode(ctx, env, p)
		if err != nil {
			return pipeline.Stage{}, err
		}
		args = append(args, v)
	}

	return pipeline.Stage{Kind: pipeline.StageFunction, Callable: fn, Variant: variant, Args: args, Labels: fn.Security.Labels}, nil
}

// newPipelineRunner builds a pipeline.Runner wired to this Evaluator's
// callExecutable (as the Invoker) and env's intent stream (as Effects).
func (ev *Evaluator) newPipelineRunner(env *environment.Environment) *pipeline.Runner {
	invoker := func(ctx context.Context, stage pipeline.Stage, input *variable.Variable) (pipeline.StageResult, error) {
		args := append([]*variable.Variable{input}, stage.Args...)
		named := map[string]*variable.Variable{}
		result, err := ev.callExecutable(ctx, env, stage.Callable, args, named, nil)
		if err != nil {
			if stage.Callable != nil && stage.Callable.Internal.IsRetryable {
				hint := err.Error()
				return pipeline.StageResult{Kind: pipeline.SignalRetry, Hint: &hint}, nil
			}
			return pipeline.StageResult{}, err
		}
		if name, arg, ok := extractSignalCall(exeBody(stage.Callable)); ok {
			val := result
			if arg != nil {
				v, err := ev.evalNode(ctx, env, arg)
				if err != nil {
					return pipeline.StageResult{}, err
				}
				val = v
			}
			switch name {
			case "retry":
				var hint *string
				if arg != nil {
					h := stringify(val)
					hint = &h
				}
				return pipeline.StageResult{Kind: pipeline.SignalRetry, Hint: hint}, nil
			case "done":
				return pipeline.StageResult{Kind: pipeline.SignalDone, Value: val}, nil
			case "continue":
				return pipeline.StageResult{Kind: pipeline.SignalContinue, Value: val}, nil
			}
		}
		return pipeline.StageResult{Kind: pipeline.SignalValue, Value: result}, nil
	}

	effects := pipelineEffects{env: env}
	return pipeline.New(ev.pipeCfg, invoker, effects, env.GetContextManager(), ev.hooks)
}

func exeBody(fn *variable.Variable) ast.Node {
	if fn == nil || !fn.IsExecutable() {
		return nil
	}
	return fn.Value.(variable.Executable).Body
}

type pipelineEffects struct {
	env *environment.Environment
}

func (e pipelineEffects) Show(text string) {
	e.env.EmitIntent(emitter.Content(text, emitter.SourcePipeline, emitter.VisibilityAlways))
}

func (e pipelineEffects) Log(text string) {
	e.env.EmitIntent(emitter.Content(text, emitter.SourcePipeline, emitter.VisibilityInterpolationOnly))
}

func (e pipelineEffects) Output(text string) {
	e.env.EmitIntent(emitter.Content(text, emitter.SourcePipeline, emitter.VisibilityAlways))
}
