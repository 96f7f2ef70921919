// Package resolver implements the module resolver framework (C9): the
// Resolver capability set, the ResolverManager's ordered prefix bindings and
// resolution algorithm, and the content-addressed ImmutableCache.
package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// Type discriminates a resolver's direction.
type Type string

const (
	TypeInput  Type = "input"
	TypeOutput Type = "output"
	TypeIO     Type = "io"
)

// Metadata accompanies resolved content (§3.7).
type Metadata struct {
	Source     string
	Timestamp  int64
	Author     string
	TaintLevel string
	Advisories []string
}

// Result is what Resolve returns.
type Result struct {
	Content  string
	Metadata Metadata
}

// Resolver is the capability set every built-in and user resolver satisfies
// (§4.9): canResolve/resolve/validateConfig/checkAccess, polymorphic over a
// sum-type-shaped interface rather than a class hierarchy.
type Resolver interface {
	Name() string
	Description() string
	Type() Type
	CanResolve(ref string) bool
	Resolve(ctx context.Context, ref string) (Result, error)
	ValidateConfig(cfg map[string]interface{}) []error
	CheckAccess(ref, mode string) bool // mode: "read" | "write"

	// Write is only meaningful for TypeOutput/TypeIO resolvers (§4.9 "Output
	// resolvers accept write(ref, content)"); input-only resolvers return an
	// error (INVALID_REQUEST, or PERMISSION_DENIED from the Local resolver).
	Write(ctx context.Context, ref, content string) error
}

// Binding is one ordered prefix→resolver entry (§3.7, §4.9).
type Binding struct {
	Prefix      string
	Resolver    Resolver
	Type        Type
	Config      map[string]interface{}
	Description string
	Priority    int
}

// Manager holds the ordered resolver bindings and the shared cache. It
// implements environment.ResolverManager.
type Manager struct {
	bindings []Binding
	cache    *ImmutableCache
	depthCap int
}

// NewManager creates a Manager with the given bindings (already merged from
// lock file + CLI by the caller, in insertion order) and a cache instance.
func NewManager(bindings []Binding, cache *ImmutableCache) *Manager {
	if cache == nil {
		cache = NewImmutableCache()
	}
	return &Manager{bindings: bindings, cache: cache, depthCap: 3}
}

// candidates returns bindings whose prefix matches ref, ordered by priority
// ascending then insertion order (stable sort preserves insertion order for
// equal priority), per §4.9 step 1.
func (m *Manager) candidates(ref string) []Binding {
	var out []Binding
	for _, b := range m.bindings {
		if strings.HasPrefix(ref, b.Prefix) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Resolve implements the §4.9 resolution algorithm: find the first matching
// prefix binding whose resolver.CanResolve(ref) is true, consult the cache,
// and on miss call resolve and store the result; taint is computed and
// attached to the resulting Variable's security descriptor.
func (m *Manager) Resolve(ctx context.Context, ref string) (*variable.Variable, error) {
	for _, b := range m.candidates(ref) {
		if !b.Resolver.CanResolve(ref) {
			continue
		}

		key := FingerprintRef(ref)
		if entry, ok := m.cache.Get(key); ok {
			return toVariable(ref, entry.Content, entry.Metadata), nil
		}

		result, err := m.cache.SingleFlight(key, func() (Result, error) {
			return b.Resolver.Resolve(ctx, ref)
		})
		if err != nil {
			return nil, mllderr.Wrap(mllderr.ModuleNotFound, err, "resolver %q failed for %q", b.Resolver.Name(), ref)
		}
		m.cache.Put(key, result, ttlFor(b.Resolver))
		return toVariable(ref, result.Content, result.Metadata), nil
	}
	return nil, mllderr.New(mllderr.ModuleNotFound, "no resolver could resolve %q", ref)
}

// Write dispatches to the first matching output/io resolver's Write.
func (m *Manager) Write(ctx context.Context, ref, content string) error {
	for _, b := range m.candidates(ref) {
		if b.Type != TypeOutput && b.Type != TypeIO {
			continue
		}
		if !b.Resolver.CanResolve(ref) {
			continue
		}
		if !b.Resolver.CheckAccess(ref, "write") {
			return mllderr.New(mllderr.PermissionDenied, "resolver %q denies write access to %q", b.Resolver.Name(), ref)
		}
		return b.Resolver.Write(ctx, ref, content)
	}
	return mllderr.New(mllderr.ModuleNotFound, "no output resolver could resolve %q", ref)
}

func ttlFor(r Resolver) int64 {
	if dr, ok := r.(interface{ CacheTTLSeconds() int64 }); ok {
		return dr.CacheTTLSeconds()
	}
	return 0
}

func toVariable(name, content string, md Metadata) *variable.Variable {
	sv := structured.FromText(content)
	desc := security.Empty()
	if md.TaintLevel != "" {
		desc = desc.WithTaint(security.TaintKind(md.TaintLevel)).WithSource(md.Source)
	}
	return variable.CreateStructured(name, sv, variable.Source{Directive: "import"}, variable.Options{
		Security: desc,
		Internal: variable.Internal{Security: desc},
	})
}

// DepthCap returns the configured import-depth cap (default 3, per §4.9
// "Cycle detection... Depth cap: 3 (configurable)").
func (m *Manager) DepthCap() int { return m.depthCap }

// SetDepthCap overrides the depth cap.
func (m *Manager) SetDepthCap(n int) { m.depthCap = n }
