// Package hooks implements the hook & guard runtime (C8): registration of
// before/after callbacks around operations, function references and data
// labels, their matching rules, and the allow/deny/retry/transform decision
// protocol guards layer on top of hooks.
package hooks

import (
	"context"
	"strings"
	"sync"

	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// Timing discriminates before/after registration.
type Timing string

const (
	Before Timing = "before"
	After  Timing = "after"
)

// ScopeKind discriminates what a hook matches against.
type ScopeKind string

const (
	ScopeOpKind ScopeKind = "op-kind" // e.g. op:exe, op:for:iteration
	ScopeFunc   ScopeKind = "func"    // before/after @f, optional arg-prefix
	ScopeLabel  ScopeKind = "label"   // before/after <label>
)

// Scope is the match target a hook was registered against.
type Scope struct {
	Kind      ScopeKind
	OpKind    string
	FuncName  string
	ArgPrefix string
	Label     string
}

// Key returns a stable identity for duplicate-registration checks: two
// registrations in the same (timing, scope) group collide if their Key()
// matches, per §4.8 HOOK_DUPLICATE.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeOpKind:
		return "op:" + s.OpKind
	case ScopeFunc:
		return "func:" + s.FuncName + ":" + s.ArgPrefix
	case ScopeLabel:
		return "label:" + s.Label
	default:
		return "unknown"
	}
}

// Action is a before/after hook's decision.
type Action string

const (
	ActionContinue  Action = "continue"  // before: default, unchanged
	ActionTransform Action = "transform" // before/after: replace input/output
	ActionDeny      Action = "deny"      // before: abort operation
	ActionAllow     Action = "allow"     // guard: proceed
	ActionRetry     Action = "retry"     // guard: request a pipeline retry
)

// Decision is what a hook/guard body returns.
type Decision struct {
	Action  Action
	Value   *variable.Variable // for transform
	Message string             // for deny
	Hint    *string            // for retry
}

// Fn is a hook/guard body. It receives the current value and environment
// handle (opaque here; callers pass whatever is useful to the body, which
// the eval package supplies as a closure).
type Fn func(ctx context.Context, value *variable.Variable) (Decision, error)

// Hook is one registered callback.
type Hook struct {
	Name    string
	Timing  Timing
	Scope   Scope
	Fn      Fn
	IsGuard bool
}

// Registry holds all registered hooks for one root Environment; children
// share the same Registry instance (§3.2: "per root environment; child envs
// see parent hooks").
type Registry struct {
	mu    sync.Mutex
	hooks []Hook
	seen  map[string]bool // timing|scope-key|name uniqueness within group
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Register adds h, rejecting a duplicate name within the same
// (timing, scope) group.
func (r *Registry) Register(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(h.Timing) + "|" + h.Scope.Key() + "|" + h.Name
	if r.seen[key] {
		return mllderr.New(mllderr.HookDuplicate, "hook %q already registered for %s %s", h.Name, h.Timing, h.Scope.Key())
	}
	r.seen[key] = true
	r.hooks = append(r.hooks, h)
	return nil
}

// matching returns hooks of the given timing whose scope matches the
// operation described by opKind/labels/funcName/firstArgText, in
// declaration order.
func (r *Registry) matching(timing Timing, opKind string, labels []string, funcName, firstArgText string) []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Hook
	for _, h := range r.hooks {
		if h.Timing != timing {
			continue
		}
		switch h.Scope.Kind {
		case ScopeOpKind:
			if h.Scope.OpKind == opKind {
				out = append(out, h)
			}
		case ScopeFunc:
			if h.Scope.FuncName == funcName && (h.Scope.ArgPrefix == "" || strings.HasPrefix(firstArgText, h.Scope.ArgPrefix)) {
				out = append(out, h)
			}
		case ScopeLabel:
			for _, l := range labels {
				if l == h.Scope.Label {
					out = append(out, h)
					break
				}
			}
		}
	}
	return out
}

// MatchingBefore returns the before-hooks/guards matching this operation.
func (r *Registry) MatchingBefore(opKind string, labels []string, funcName, firstArgText string) []Hook {
	return r.matching(Before, opKind, labels, funcName, firstArgText)
}

// MatchingAfter returns the after-hooks/guards matching this operation.
func (r *Registry) MatchingAfter(opKind string, labels []string, funcName, firstArgText string) []Hook {
	return r.matching(After, opKind, labels, funcName, firstArgText)
}

// RunBeforeResult is the outcome of running a matched before-hook chain.
type RunBeforeResult struct {
	Denied  bool
	Message string
	Value   *variable.Variable // possibly transformed input
	Retry   bool
	Hint    *string
}

// RunBefore executes matched before-hooks/guards in declaration order. Each
// hook observes the value as transformed by any prior hook in the same
// phase. A deny decision aborts immediately (GUARD_DENY). An error thrown
// by a hook body is captured into @mx.hooks.errors and the remaining hooks
// still run (§4.8, §8 invariant #4).
func RunBefore(ctx context.Context, ctxMgr *gocontext.Manager, hooks []Hook, value *variable.Variable) RunBeforeResult {
	current := value
	for _, h := range hooks {
		decision, err := h.Fn(ctx, current)
		if err != nil {
			ctxMgr.RecordHookError(h.Name, err.Error())
			continue
		}
		switch decision.Action {
		case ActionDeny:
			return RunBeforeResult{Denied: true, Message: decision.Message, Value: current}
		case ActionTransform:
			if decision.Value != nil {
				current = decision.Value
			}
		case ActionRetry:
			return RunBeforeResult{Retry: true, Hint: decision.Hint, Value: current}
		case ActionAllow, ActionContinue, "":
			// no-op
		}
	}
	return RunBeforeResult{Value: current}
}

// RunAfterResult is the outcome of running a matched after-hook chain.
type RunAfterResult struct {
	Value *variable.Variable
}

// RunAfter executes matched after-hooks in declaration order, each possibly
// transforming the observed output; a hook with no transform leaves the
// value unchanged (§4.8).
func RunAfter(ctx context.Context, ctxMgr *gocontext.Manager, hooks []Hook, value *variable.Variable) RunAfterResult {
	current := value
	for _, h := range hooks {
		decision, err := h.Fn(ctx, current)
		if err != nil {
			ctxMgr.RecordHookError(h.Name, err.Error())
			continue
		}
		if decision.Action == ActionTransform && decision.Value != nil {
			current = decision.Value
		}
	}
	return RunAfterResult{Value: current}
}

// DenyRetryKey namespaces the ContextManager generic bucket guards use to
// record a denyRetry flag for the enclosing pipeline frame (§4.8: "Guards
// can set denyRetry in the pipeline context, preventing upstream retries").
const DenyRetryKey = "guard.denyRetry"

// SetDenyRetry records that retries are denied for the current pipeline
// frame.
func SetDenyRetry(ctxMgr *gocontext.Manager) {
	ctxMgr.PushGeneric(DenyRetryKey, true)
}

// IsDenyRetry reports whether a denyRetry flag is active.
func IsDenyRetry(ctxMgr *gocontext.Manager) bool {
	v, ok := ctxMgr.PopGeneric(DenyRetryKey)
	if ok {
		ctxMgr.PushGeneric(DenyRetryKey, v) // peek without consuming
		return v.(bool)
	}
	return false
}
