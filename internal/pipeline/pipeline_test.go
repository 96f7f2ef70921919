package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

type noEffects struct{}

func (noEffects) Show(string)   {}
func (noEffects) Log(string)    {}
func (noEffects) Output(string) {}

func textVar(s string) *variable.Variable {
	return variable.CreateSimpleText("v", s, variable.Source{}, variable.Options{})
}

func retryableCallable(name string) *variable.Variable {
	return &variable.Variable{
		Name: name,
		Type: variable.KindExecutable,
		Internal: variable.Internal{
			IsRetryable: true,
		},
	}
}

// TestRetryExhausted implements scenario S3: a retryable stage that always
// signals retry fails with PIPELINE_RETRY_EXHAUSTED after max attempts, and
// the stage is invoked exactly max times.
func TestRetryExhausted(t *testing.T) {
	ctxMgr := gocontext.New()
	callable := retryableCallable("r")

	attempts := 0
	invoke := func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
		attempts++
		return StageResult{Kind: SignalRetry}, nil
	}

	r := New(Config{MaxAttempts: 3}, invoke, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{{Kind: StageFunction, Callable: callable}}

	_, err := RunPipeline(context.Background(), r, stages, textVar("a"))
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.PipelineRetryExhausted))
	assert.Equal(t, 3, attempts)
}

func TestRetryDeniedWhenSourceNotRetryable(t *testing.T) {
	ctxMgr := gocontext.New()
	callable := &variable.Variable{Name: "r", Type: variable.KindExecutable}

	invoke := func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
		return StageResult{Kind: SignalRetry}, nil
	}

	r := New(Config{}, invoke, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{{Kind: StageFunction, Callable: callable}}

	_, err := RunPipeline(context.Background(), r, stages, textVar("a"))
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.RetryDenied))
}

func TestContinueAdvancesToNextStageWithNewValue(t *testing.T) {
	ctxMgr := gocontext.New()
	c1 := retryableCallable("first")
	c2 := retryableCallable("second")

	invoke := func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
		if stage.Callable.Name == "first" {
			return StageResult{Kind: SignalContinue, Value: textVar("from-first")}, nil
		}
		return StageResult{Kind: SignalValue, Value: textVar(input.Value.(string) + "-second")}, nil
	}

	r := New(Config{}, invoke, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{
		{Kind: StageFunction, Callable: c1},
		{Kind: StageFunction, Callable: c2},
	}

	out, err := RunPipeline(context.Background(), r, stages, textVar("a"))
	require.NoError(t, err)
	assert.Equal(t, "from-first-second", out.Value)
}

func TestDoneTerminatesEarly(t *testing.T) {
	ctxMgr := gocontext.New()
	c1 := retryableCallable("first")
	c2 := retryableCallable("second")

	secondCalled := false
	invoke := func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
		if stage.Callable.Name == "first" {
			return StageResult{Kind: SignalDone, Value: textVar("early")}, nil
		}
		secondCalled = true
		return StageResult{Kind: SignalValue, Value: input}, nil
	}

	r := New(Config{}, invoke, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{
		{Kind: StageFunction, Callable: c1},
		{Kind: StageFunction, Callable: c2},
	}

	out, err := RunPipeline(context.Background(), r, stages, textVar("a"))
	require.NoError(t, err)
	assert.Equal(t, "early", out.Value)
	assert.False(t, secondCalled)
}

func TestBuiltinShowPassesThroughValueUnchanged(t *testing.T) {
	ctxMgr := gocontext.New()
	r := New(Config{}, nil, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{{Kind: StageBuiltinShow}}

	out, err := RunPipeline(context.Background(), r, stages, textVar("unchanged"))
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out.Value)
}

func TestGuardDenyBeforeHookAbortsStage(t *testing.T) {
	ctxMgr := gocontext.New()
	registry := hooks.NewRegistry()
	require.NoError(t, registry.Register(hooks.Hook{
		Name:   "blocklist",
		Timing: hooks.Before,
		Scope:  hooks.Scope{Kind: hooks.ScopeOpKind, OpKind: "op:pipeline:stage"},
		Fn: func(ctx context.Context, v *variable.Variable) (hooks.Decision, error) {
			return hooks.Decision{Action: hooks.ActionDeny, Message: "blocked"}, nil
		},
		IsGuard: true,
	}))

	invoked := false
	invoke := func(ctx context.Context, stage Stage, input *variable.Variable) (StageResult, error) {
		invoked = true
		return StageResult{Kind: SignalValue, Value: input}, nil
	}

	r := New(Config{}, invoke, noEffects{}, ctxMgr, registry)
	stages := []Stage{{Kind: StageFunction, Callable: retryableCallable("r")}}

	_, err := RunPipeline(context.Background(), r, stages, textVar("a"))
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.GuardDeny))
	assert.False(t, invoked)
}

func TestParseModeStageReprojectsStructuredValue(t *testing.T) {
	ctxMgr := gocontext.New()
	r := New(Config{}, nil, noEffects{}, ctxMgr, hooks.NewRegistry())
	stages := []Stage{{Kind: StageParseMode, ParseMode: "strict"}}

	input := variable.CreateStructured("v", structured.FromText(`{"a":1}`), variable.Source{}, variable.Options{})
	out, err := RunPipeline(context.Background(), r, stages, input)
	require.NoError(t, err)
	sv := out.Value.(structured.Value)
	obj, ok := sv.AsObject()
	require.True(t, ok)
	assert.Equal(t, float64(1), obj["a"])
}
