package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

func textVar(s string) *variable.Variable {
	return variable.CreateSimpleText("v", s, variable.Source{}, variable.Options{})
}

func TestRegisterRejectsDuplicateInSameScope(t *testing.T) {
	r := NewRegistry()
	h := Hook{
		Name:   "audit",
		Timing: Before,
		Scope:  Scope{Kind: ScopeOpKind, OpKind: "op:exe"},
		Fn:     func(ctx context.Context, v *variable.Variable) (Decision, error) { return Decision{}, nil },
	}
	require.NoError(t, r.Register(h))
	err := r.Register(h)
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.HookDuplicate))
}

func TestMatchingBeforeFiltersByFuncArgPrefix(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Hook{
		Name:   "guardSecrets",
		Timing: Before,
		Scope:  Scope{Kind: ScopeFunc, FuncName: "writeFile", ArgPrefix: "/etc/"},
		Fn:     func(ctx context.Context, v *variable.Variable) (Decision, error) { return Decision{}, nil },
	}))

	matched := r.MatchingBefore("", nil, "writeFile", "/etc/passwd")
	assert.Len(t, matched, 1)

	unmatched := r.MatchingBefore("", nil, "writeFile", "/tmp/x")
	assert.Len(t, unmatched, 0)
}

func TestRunBeforeDenyAbortsImmediately(t *testing.T) {
	ctxMgr := gocontext.New()
	calledSecond := false
	chain := []Hook{
		{Name: "h1", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			return Decision{Action: ActionDeny, Message: "nope"}, nil
		}},
		{Name: "h2", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			calledSecond = true
			return Decision{}, nil
		}},
	}
	res := RunBefore(context.Background(), ctxMgr, chain, textVar("x"))
	assert.True(t, res.Denied)
	assert.Equal(t, "nope", res.Message)
	assert.False(t, calledSecond)
}

func TestRunBeforeHookErrorIsCapturedAndChainContinues(t *testing.T) {
	ctxMgr := gocontext.New()
	chain := []Hook{
		{Name: "broken", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			return Decision{}, assert.AnError
		}},
		{Name: "transformer", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			return Decision{Action: ActionTransform, Value: textVar("transformed")}, nil
		}},
	}
	res := RunBefore(context.Background(), ctxMgr, chain, textVar("orig"))
	require.False(t, res.Denied)
	require.NotNil(t, res.Value)
	assert.Equal(t, "transformed", res.Value.Value)
	errs := ctxMgr.HooksErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].HookName)
}

func TestRunAfterTransformsSequentially(t *testing.T) {
	ctxMgr := gocontext.New()
	chain := []Hook{
		{Name: "a1", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			return Decision{Action: ActionTransform, Value: textVar(v.Value.(string) + "-a1")}, nil
		}},
		{Name: "a2", Fn: func(ctx context.Context, v *variable.Variable) (Decision, error) {
			return Decision{Action: ActionTransform, Value: textVar(v.Value.(string) + "-a2")}, nil
		}},
	}
	res := RunAfter(context.Background(), ctxMgr, chain, textVar("out"))
	assert.Equal(t, "out-a1-a2", res.Value.Value)
}

func TestDenyRetryFlag(t *testing.T) {
	ctxMgr := gocontext.New()
	assert.False(t, IsDenyRetry(ctxMgr))
	SetDenyRetry(ctxMgr)
	assert.True(t, IsDenyRetry(ctxMgr))
}
