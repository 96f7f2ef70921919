// Package pipeline implements the pipeline engine (C7): stage chaining with
// retry/continue/done as tagged signals, attempt/hint history, built-in
// effect stages and parse-mode stages. Each stage runs to completion before
// the next starts; streamed output is not handled in this package.
package pipeline

import (
	"context"

	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// StageKind discriminates a pipeline stage.
type StageKind string

const (
	StageFunction     StageKind = "function"
	StageBuiltinShow  StageKind = "builtin-show"
	StageBuiltinLog   StageKind = "builtin-log"
	StageBuiltinOutput StageKind = "builtin-output"
	StageParseMode    StageKind = "parse-mode"
)

// Stage is one step of a pipeline (§4.7).
type Stage struct {
	Kind     StageKind
	Callable *variable.Variable // for StageFunction
	Variant  string             // dotted variant selection, e.g. @fn.json
	Args     []*variable.Variable
	ParseMode string // strict/loose/llm, for StageParseMode
	Labels   []string // effective labels of the callable, for hook matching
}

// SignalKind discriminates what a stage invocation returned.
type SignalKind string

const (
	SignalValue    SignalKind = "value"
	SignalRetry    SignalKind = "retry"
	SignalContinue SignalKind = "continue"
	SignalDone     SignalKind = "done"
)

// StageResult is what invoking one stage with one input produces.
type StageResult struct {
	Kind  SignalKind
	Value *variable.Variable
	Hint  *string
}

// Invoker actually runs a stage against an input value; wired in from the
// evaluator (which knows how to call an executable Variable) to avoid a
// package cycle between pipeline and eval.
type Invoker func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error)

// Effects receives built-in effect-stage output (show/log/output); wired
// in from the evaluator/emitter.
type Effects interface {
	Show(text string)
	Log(text string)
	Output(text string)
}

// Config configures a Runner.
type Config struct {
	MaxAttempts int // default 3, per §9 "Pipeline retry: { max: int (default 3) }"
}

// Runner executes a pipeline's stages in order.
type Runner struct {
	cfg     Config
	invoke  Invoker
	effects Effects
	ctxMgr  *gocontext.Manager
	hooks   *hooks.Registry
}

// New creates a Runner.
func New(cfg Config, invoke Invoker, effects Effects, ctxMgr *gocontext.Manager, hookRegistry *hooks.Registry) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Runner{cfg: cfg, invoke: invoke, effects: effects, ctxMgr: ctxMgr, hooks: hookRegistry}
}

func (r *Runner) runStage(ctx context.Context, index, total int, stages []Stage, input *variable.Variable) (*variable.Variable, error) {
	stage := stages[index]

	sourceRetryable := false
	if stage.Kind == StageFunction && stage.Callable != nil {
		sourceRetryable = stage.Callable.Internal.IsRetryable
	}

	frame := gocontext.PipelineFrame{
		Stage:           index,
		TotalStages:     total,
		CurrentCommand:  stageLabel(stage),
		Input:           input,
		AttemptCount:    1,
		SourceRetryable: sourceRetryable,
		Guards:          append([]string{}, stage.Labels...),
	}
	r.ctxMgr.PushPipeline(frame)
	defer r.ctxMgr.PopPipeline()

	firstArg := ""
	if len(stage.Args) > 0 {
		firstArg = structured.FromText(toText(stage.Args[0])).AsText()
	}
	funcName := ""
	if stage.Callable != nil {
		funcName = stage.Callable.Name
	}

	for {
		before := hooks.RunBefore(ctx, r.ctxMgr, r.hooks.MatchingBefore("op:pipeline:stage", stage.Labels, funcName, firstArg), input)
		if before.Denied {
			return nil, mllderr.New(mllderr.GuardDeny, "%s", before.Message)
		}
		if before.Retry {
			hooks.SetDenyRetry(r.ctxMgr)
		}
		stageInput := before.Value

		result, err := r.invokeStage(ctx, stage, stageInput)
		if err != nil {
			return nil, err
		}

		switch result.Kind {
		case SignalRetry:
			cur, _ := r.ctxMgr.CurrentPipeline()
			if !cur.SourceRetryable || hooks.IsDenyRetry(r.ctxMgr) {
				return nil, mllderr.New(mllderr.RetryDenied, "retry denied for stage %d (%s)", index, stageLabel(stage))
			}
			r.ctxMgr.UpdateCurrentPipeline(func(f *gocontext.PipelineFrame) {
				f.AttemptHistory = append(f.AttemptHistory, stageInput)
				f.Hint = result.Hint
				f.HintHistory = append(f.HintHistory, result.Hint)
			})
			if cur.AttemptCount >= r.cfg.MaxAttempts {
				return nil, mllderr.New(mllderr.PipelineRetryExhausted,
					"stage %d (%s) exhausted retries after %d attempts", index, stageLabel(stage), cur.AttemptCount)
			}
			r.ctxMgr.UpdateCurrentPipeline(func(f *gocontext.PipelineFrame) {
				f.AttemptCount++
			})
			continue // re-invoke the current stage with the same input

		case SignalDone:
			after := hooks.RunAfter(ctx, r.ctxMgr, r.hooks.MatchingAfter("op:pipeline:stage", stage.Labels, funcName, firstArg), result.Value)
			return after.Value, errDone{value: after.Value}

		case SignalContinue, SignalValue:
			after := hooks.RunAfter(ctx, r.ctxMgr, r.hooks.MatchingAfter("op:pipeline:stage", stage.Labels, funcName, firstArg), result.Value)
			return after.Value, nil

		default:
			return result.Value, nil
		}
	}
}

// errDone signals early pipeline termination (§4.7: "done @v" terminates
// the pipeline early with @v). RunPipeline unwraps it into a normal return.
type errDone struct {
	value *variable.Variable
}

func (e errDone) Error() string { return "pipeline terminated early via done" }

func (r *Runner) invokeStage(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
	switch stage.Kind {
	case StageBuiltinShow:
		r.effects.Show(toText(input))
		return StageResult{Kind: SignalValue, Value: input}, nil
	case StageBuiltinLog:
		r.effects.Log(toText(input))
		return StageResult{Kind: SignalValue, Value: input}, nil
	case StageBuiltinOutput:
		r.effects.Output(toText(input))
		return StageResult{Kind: SignalValue, Value: input}, nil
	case StageParseMode:
		return StageResult{Kind: SignalValue, Value: reparse(input, stage.ParseMode)}, nil
	case StageFunction:
		return r.invoke(ctx, stage, input)
	default:
		return StageResult{}, mllderr.New(mllderr.InvalidDirective, "unknown pipeline stage kind %q", stage.Kind)
	}
}

// RunPipeline executes stages in order against the materialized input,
// threading the pipeline context frame and hook invocations per §4.7, and
// unwraps an early "done" signal into a normal successful return.
func RunPipeline(ctx context.Context, r *Runner, stages []Stage, input *variable.Variable) (*variable.Variable, error) {
	current := input
	total := len(stages)
	for i := range stages {
		out, err := r.runStage(ctx, i, total, stages, current)
		if d, ok := err.(errDone); ok {
			return d.value, nil
		}
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

func stageLabel(s Stage) string {
	if s.Callable != nil {
		if s.Variant != "" {
			return s.Callable.Name + "." + s.Variant
		}
		return s.Callable.Name
	}
	return string(s.Kind)
}

func toText(v *variable.Variable) string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindStructured, variable.KindPipelineInput:
		sv := v.Value.(structured.Value)
		return sv.AsText()
	default:
		return ""
	}
}

func reparse(v *variable.Variable, mode string) *variable.Variable {
	if v == nil {
		return v
	}
	sv, ok := v.Value.(structured.Value)
	if !ok {
		return v
	}
	switch mode {
	case "strict", "loose", "llm":
		reprojected := structured.FromText(sv.AsText())
		clone := variable.Clone(v)
		clone.Value = reprojected
		return clone
	default:
		return v
	}
}
