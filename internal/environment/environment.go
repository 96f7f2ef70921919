// Package environment implements the Environment (C2): the lexical scope
// chain, variable registry, shadow environments, intent stream and
// state-writes buffer described in §3.2 and §4.2.
package environment

import (
	"context"
	"sort"
	"sync"

	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/config"
	"github.com/mlld-lang/mlld/internal/emitter"
	"github.com/mlld-lang/mlld/internal/invariant"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/variable"
)

// HookRegistry is the capability surface Environment needs from the hook &
// guard runtime (C8); kept as an interface here to avoid a package cycle,
// matching the dynamic-dispatch-over-capability-sets guidance.
type HookRegistry interface {
	// no methods required at this layer beyond identity; eval dispatches
	// through the concrete *hooks.Registry it holds alongside the root Env.
}

// Executor is the capability surface Environment needs from C6.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd string, opts CommandOptions) (string, error)
	ExecuteCode(ctx context.Context, code, language string, params map[string]*variable.Variable) (string, error)
}

// CommandOptions mirrors executeCommand's opts bag.
type CommandOptions struct {
	Cwd     string
	Env     map[string]string
	Timeout int64 // nanoseconds; 0 = none
}

// ResolverManager is the capability surface Environment needs from C9.
type ResolverManager interface {
	Resolve(ctx context.Context, ref string) (*variable.Variable, error)
}

// StateWrite is one pending `state://` sink write (§4.6, §6.4).
type StateWrite struct {
	Path      string
	Value     interface{}
	Timestamp int64
}

// ImportKind discriminates the two /import merge strategies (§4.5).
type ImportKind int

const (
	ImportNamed     ImportKind = iota // `{a, b as c} from @src`
	ImportNamespace                   // `@src as @ns`
)

// NamedImport is one `{name}` or `{name as alias}` entry.
type NamedImport struct {
	Name  string
	Alias string // "" if no alias
}

// Environment is one lexical scope.
type Environment struct {
	mu sync.Mutex

	parent *Environment

	vars  map[string]*variable.Variable
	order []string

	shadow map[variable.Language]variable.ShadowEnv

	imports map[string]bool // canonical refs imported directly into this env

	intents []emitter.Intent
	nodes   []interface{} // raw AST nodes recorded via AddNode, for reconstruction

	stateWrites []StateWrite

	ledger security.Descriptor

	ctx      *gocontext.Manager
	hooks    HookRegistry
	resolver ResolverManager
	executor Executor
	opts     config.Options
}

// NewRoot creates the root Environment. It owns the ContextManager, hook
// registry handle and resolver/executor handles; all descendants share
// these by reference.
func NewRoot(opts config.Options, hooks HookRegistry, resolver ResolverManager, executor Executor) *Environment {
	return &Environment{
		vars:    make(map[string]*variable.Variable),
		shadow:  make(map[variable.Language]variable.ShadowEnv),
		imports: make(map[string]bool),
		ctx:     gocontext.New(),
		hooks:   hooks,
		resolver: resolver,
		executor: executor,
		opts:     opts,
	}
}

// CreateChild returns a new Environment with e as parent. Shadow
// environments are inherited lazily (resolved by walking the parent chain
// on lookup, not copied eagerly).
func (e *Environment) CreateChild() *Environment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Environment{
		parent:   e,
		vars:     make(map[string]*variable.Variable),
		shadow:   make(map[variable.Language]variable.ShadowEnv),
		imports:  make(map[string]bool),
		ctx:      e.ctx,
		hooks:    e.hooks,
		resolver: e.resolver,
		executor: e.executor,
		opts:     e.opts,
	}
}

// Parent returns e's parent, or nil at the root.
func (e *Environment) Parent() *Environment { return e.parent }

// Options returns the interpretation configuration shared from the root.
func (e *Environment) Options() config.Options { return e.opts }

// GetVariable walks the scope chain (local, then ancestors) for name.
func (e *Environment) GetVariable(name string) (*variable.Variable, bool) {
	for env := e; env != nil; env = env.parent {
		env.mu.Lock()
		v, ok := env.vars[name]
		env.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// HasVariable reports whether name is visible anywhere in the scope chain.
func (e *Environment) HasVariable(name string) bool {
	_, ok := e.GetVariable(name)
	return ok
}

// SetVariable binds name in e's local table. A name already bound in a
// parent is shadowed, not mutated (§4.2 invariant).
func (e *Environment) SetVariable(name string, v *variable.Variable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.vars[name]; !exists {
		e.order = append(e.order, name)
	}
	e.vars[name] = v
}

// ReassignVariable updates an existing binding wherever it is currently
// bound in the scope chain (identity invariant: the same declared name in
// the same scope keeps its Variable identity until reassignment, but
// reassignment may target an ancestor's binding if that's where it lives).
func (e *Environment) ReassignVariable(name string, v *variable.Variable) error {
	for env := e; env != nil; env = env.parent {
		env.mu.Lock()
		_, ok := env.vars[name]
		if ok {
			env.vars[name] = v
		}
		env.mu.Unlock()
		if ok {
			return nil
		}
	}
	return mllderr.New(mllderr.VariableNotFound, "cannot reassign undeclared variable %q", name)
}

// ExportedNames returns e's locally bound variable names in insertion order,
// for namespace/named export enumeration.
func (e *Environment) ExportedNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.order...)
}

// CaptureShadowEnvironment snapshots the currently-visible callables for
// language, merging from e upward so an inner scope's shadow additions
// shadow outer ones by name. Used at exe-definition time.
func (e *Environment) CaptureShadowEnvironment(lang variable.Language) variable.ShadowEnv {
	merged := make(variable.ShadowEnv)
	chain := []*Environment{}
	for env := e; env != nil; env = env.parent {
		chain = append(chain, env)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		env := chain[i]
		env.mu.Lock()
		for name, fn := range env.shadow[lang] {
			merged[name] = fn
		}
		env.mu.Unlock()
	}
	return merged
}

// SetShadowEnv installs a shadow map for language into e's local scope.
func (e *Environment) SetShadowEnv(lang variable.Language, m variable.ShadowEnv) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shadow[lang] = m
}

// EmitIntent appends to e's local effect stream.
func (e *Environment) EmitIntent(in emitter.Intent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, in)
}

// Intents returns a snapshot of e's local intent stream.
func (e *Environment) Intents() []emitter.Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitter.Intent{}, e.intents...)
}

// AddNode records an original AST node for document reconstruction
// introspection.
func (e *Environment) AddNode(n interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = append(e.nodes, n)
}

// RecordSecurityDescriptor folds d into e's local secure-labels ledger.
func (e *Environment) RecordSecurityDescriptor(d security.Descriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = security.Merge(e.ledger, d)
}

// MergeSecurityDescriptors folds multiple descriptors at once.
func (e *Environment) MergeSecurityDescriptors(ds ...security.Descriptor) {
	e.RecordSecurityDescriptor(security.MergeAll(ds...))
}

// Ledger returns e's accumulated security descriptor.
func (e *Environment) Ledger() security.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger
}

// AppendStateWrite records a pending state:// write, deduplicating
// identical {path,value} pairs (stable keep-first) per §5 ordering
// guarantees / S8.
func (e *Environment) AppendStateWrite(path string, value interface{}, timestamp int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.stateWrites {
		if w.Path == path && equalValue(w.Value, value) {
			return
		}
	}
	e.stateWrites = append(e.stateWrites, StateWrite{Path: path, Value: value, Timestamp: timestamp})
}

func equalValue(a, b interface{}) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}

// GetStateWrites returns the ordered pending state writes.
func (e *Environment) GetStateWrites() []StateWrite {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StateWrite{}, e.stateWrites...)
}

// GetContextManager returns the shared ContextManager.
func (e *Environment) GetContextManager() *gocontext.Manager { return e.ctx }

// GetHookRegistry returns the shared hook registry handle.
func (e *Environment) GetHookRegistry() HookRegistry { return e.hooks }

// ExecuteCommand delegates to the configured Executor (C6).
func (e *Environment) ExecuteCommand(ctx context.Context, cmd string, opts CommandOptions) (string, error) {
	invariant.NotNil(e.executor, "Environment.executor")
	return e.executor.ExecuteCommand(ctx, cmd, opts)
}

// ExecuteCode delegates to the configured Executor (C6).
func (e *Environment) ExecuteCode(ctx context.Context, code, language string, params map[string]*variable.Variable) (string, error) {
	invariant.NotNil(e.executor, "Environment.executor")
	return e.executor.ExecuteCode(ctx, code, language, params)
}

// GetResolverVariable async-resolves a top-level resolver identifier such as
// `@input`.
func (e *Environment) GetResolverVariable(ctx context.Context, name string) (*variable.Variable, error) {
	invariant.NotNil(e.resolver, "Environment.resolver")
	return e.resolver.Resolve(ctx, name)
}

// RecordImport adds ref to e's local imports set (used for cycle detection
// alongside CheckImportCycle).
func (e *Environment) RecordImport(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.imports[ref] = true
}

// CheckImportCycle walks e's ancestor chain looking for ref already
// imported and reports whether it was found. When it was, the returned
// chain holds only ref itself; the intermediate imports along the path are
// not recorded and not returned.
func (e *Environment) CheckImportCycle(ref string) ([]string, bool) {
	var chain []string
	found := false
	envs := []*Environment{}
	for env := e; env != nil; env = env.parent {
		envs = append(envs, env)
	}
	for i := len(envs) - 1; i >= 0; i-- {
		env := envs[i]
		env.mu.Lock()
		if env.imports[ref] {
			found = true
		}
		env.mu.Unlock()
	}
	if found {
		chain = append(chain, refChainLabel(envs, ref))
	}
	return chain, found
}

func refChainLabel(envs []*Environment, ref string) string {
	return ref
}

// MergeChildExports copies a child environment's exported bindings into e,
// per the import directive's two forms (§4.5).
//
// ImportNamed: each requested name is copied under its own name or alias;
// a collision with an existing binding visible from e (in e or any
// ancestor scope) fails with IMPORT_COLLISION
// unless the caller supplied an alias (the alias itself still collides if
// already bound, to keep the rule simple and total).
//
// ImportNamespace: exports are merged into a single namespace object
// Variable bound at alias; a namespace import always shadows any existing
// binding at that name.
func (e *Environment) MergeChildExports(child *Environment, kind ImportKind, named []NamedImport, namespaceAlias string, buildNamespace func(exports map[string]*variable.Variable) *variable.Variable) error {
	exports := make(map[string]*variable.Variable)
	for _, name := range child.ExportedNames() {
		v, _ := child.GetVariable(name)
		exports[name] = v
	}

	switch kind {
	case ImportNamed:
		for _, ni := range named {
			v, ok := exports[ni.Name]
			if !ok {
				return mllderr.New(mllderr.ModuleNotFound, "import: export %q not found in module", ni.Name)
			}
			bindName := ni.Name
			if ni.Alias != "" {
				bindName = ni.Alias
			}
			if e.HasVariable(bindName) {
				return mllderr.New(mllderr.ImportCollision, "import: %q already bound in this scope", bindName)
			}
			e.SetVariable(bindName, v)
		}
	case ImportNamespace:
		invariant.Precondition(namespaceAlias != "", "namespace import requires an alias")
		ns := buildNamespace(exports)
		e.SetVariable(namespaceAlias, ns) // namespace import always shadows
	}
	return nil
}

// FlushIntentsTo appends e's local intents to parent's buffer, used when a
// block/import should preserve its output (as opposed to expression-mode
// evaluation, which simply discards by never calling this).
func (e *Environment) FlushIntentsTo(parent *Environment) {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	parent.intents = append(parent.intents, e.intents...)
	parent.stateWrites = append(parent.stateWrites, e.stateWrites...)
}

// SortedShadowLanguages is a small helper for deterministic iteration over
// e's locally-installed shadow languages (tests, debugging).
func (e *Environment) SortedShadowLanguages() []variable.Language {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]variable.Language, 0, len(e.shadow))
	for l := range e.shadow {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
