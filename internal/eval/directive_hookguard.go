package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// evalHook registers a /hook callback (§4.8). Fields expected: name,
// timing ("before"|"after"), and one of opKind/funcName(+argPrefix)/label
// to pin the scope, plus body (the callback block).
func (ev *Evaluator) evalHook(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	h, err := ev.buildHookFromFields(ctx, env, d, false)
	if err != nil {
		return err
	}
	return ev.hooks.Register(h)
}

// evalGuard registers a /guard: a hook whose body is a `when […]` matcher
// producing allow/deny/retry/transform decisions (§4.5, §4.8).
func (ev *Evaluator) evalGuard(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	h, err := ev.buildHookFromFields(ctx, env, d, true)
	if err != nil {
		return err
	}
	return ev.hooks.Register(h)
}

func (ev *Evaluator) buildHookFromFields(ctx context.Context, env *environment.Environment, d *ast.Directive, isGuard bool) (hooks.Hook, error) {
	name, _ := d.Fields["name"].(string)
	if name == "" {
		return hooks.Hook{}, mllderr.New(mllderr.InvalidDirective, "hook/guard requires a name").At(loc(d.Loc()))
	}
	timingStr, _ := d.Fields["timing"].(string)
	var timing hooks.Timing
	switch timingStr {
	case "before":
		timing = hooks.Before
	case "after":
		timing = hooks.After
	default:
		return hooks.Hook{}, mllderr.New(mllderr.InvalidDirective, "hook/guard %q needs timing before|after", name).At(loc(d.Loc()))
	}

	scope := hooks.Scope{}
	switch {
	case d.Fields["opKind"] != nil:
		scope.Kind = hooks.ScopeOpKind
		scope.OpKind, _ = d.Fields["opKind"].(string)
	case d.Fields["funcName"] != nil:
		scope.Kind = hooks.ScopeFunc
		scope.FuncName, _ = d.Fields["funcName"].(string)
		scope.ArgPrefix, _ = d.Fields["argPrefix"].(string)
	case d.Fields["label"] != nil:
		scope.Kind = hooks.ScopeLabel
		scope.Label, _ = d.Fields["label"].(string)
	default:
		return hooks.Hook{}, mllderr.New(mllderr.InvalidDirective, "hook/guard %q needs an op-kind, function or label scope", name).At(loc(d.Loc()))
	}

	body, _ := d.Fields["body"].(ast.Node)
	if body == nil {
		return hooks.Hook{}, mllderr.New(mllderr.InvalidDirective, "hook/guard %q has no body", name).At(loc(d.Loc()))
	}

	fn := func(hctx context.Context, value *variable.Variable) (hooks.Decision, error) {
		child := env.CreateChild()
		if value != nil {
			bindName := "input"
			if timing == hooks.After {
				bindName = "output"
			}
			clone := variable.Clone(value)
			clone.Name = bindName
			child.SetVariable(bindName, clone)
		}
		result, err := ev.evalNode(hctx, child, body)
		if err != nil {
			return hooks.Decision{}, err
		}
		return decisionFromResult(isGuard, result), nil
	}

	return hooks.Hook{Name: name, Timing: timing, Scope: scope, Fn: fn, IsGuard: isGuard}, nil
}

// decisionFromResult interprets a hook/guard body's return value: a
// structured object with an "action" field drives deny/retry/transform;
// anything else defaults to continue (non-guard) or allow (guard).
func decisionFromResult(isGuard bool, v *variable.Variable) hooks.Decision {
	if v == nil {
		return defaultDecision(isGuard)
	}
	obj, ok := structuredObject(v)
	if !ok {
		return hooks.Decision{Action: hooks.ActionTransform, Value: v}
	}
	action, _ := obj["action"].(string)
	switch action {
	case "deny":
		msg, _ := obj["message"].(string)
		return hooks.Decision{Action: hooks.ActionDeny, Message: msg}
	case "retry":
		var hint *string
		if h, ok := obj["hint"].(string); ok {
			hint = &h
		}
		return hooks.Decision{Action: hooks.ActionRetry, Hint: hint}
	case "transform":
		if val, ok := obj["value"]; ok {
			return hooks.Decision{Action: hooks.ActionTransform, Value: wrapVariable("", val)}
		}
		return defaultDecision(isGuard)
	case "allow":
		return hooks.Decision{Action: hooks.ActionAllow}
	default:
		return defaultDecision(isGuard)
	}
}

func defaultDecision(isGuard bool) hooks.Decision {
	if isGuard {
		return hooks.Decision{Action: hooks.ActionAllow}
	}
	return hooks.Decision{Action: hooks.ActionContinue}
}

func structuredObject(v *variable.Variable) (map[string]interface{}, bool) {
	raw := rawValue(v)
	obj, ok := raw.(map[string]interface{})
	return obj, ok
}
