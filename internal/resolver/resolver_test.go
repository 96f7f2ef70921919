package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

type stubResolver struct {
	name       string
	canResolve func(string) bool
	calls      int32
	content    string
}

func (s *stubResolver) Name() string        { return s.name }
func (s *stubResolver) Description() string { return "" }
func (s *stubResolver) Type() Type          { return TypeInput }
func (s *stubResolver) CanResolve(ref string) bool { return s.canResolve(ref) }
func (s *stubResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	atomic.AddInt32(&s.calls, 1)
	return Result{Content: s.content, Metadata: Metadata{Source: s.name, TaintLevel: "network"}}, nil
}
func (s *stubResolver) ValidateConfig(cfg map[string]interface{}) []error { return nil }
func (s *stubResolver) CheckAccess(ref, mode string) bool                 { return mode == "read" }
func (s *stubResolver) Write(ctx context.Context, ref, content string) error { return nil }

func TestManagerPicksFirstMatchingPrefixByPriority(t *testing.T) {
	low := &stubResolver{name: "low", canResolve: func(string) bool { return true }, content: "low"}
	high := &stubResolver{name: "high", canResolve: func(string) bool { return true }, content: "high"}

	m := NewManager([]Binding{
		{Prefix: "@x/", Resolver: high, Priority: 1},
		{Prefix: "@x/", Resolver: low, Priority: 0},
	}, nil)

	v, err := m.Resolve(context.Background(), "@x/mod")
	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, v.Security.Sources)
}

func TestManagerCachesSecondLookup(t *testing.T) {
	r := &stubResolver{name: "r", canResolve: func(string) bool { return true }, content: "hi"}
	m := NewManager([]Binding{{Prefix: "@x/", Resolver: r, Priority: 0}}, nil)

	_, err := m.Resolve(context.Background(), "@x/mod")
	require.NoError(t, err)
	_, err = m.Resolve(context.Background(), "@x/mod")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}

func TestManagerNoMatchFailsModuleNotFound(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Resolve(context.Background(), "@x/mod")
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ModuleNotFound))
}

func TestImmutableCacheSingleFlightDeduplicatesConcurrentResolves(t *testing.T) {
	c := NewImmutableCache()
	var calls int32
	var wg sync.WaitGroup
	results := make([]Result, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _ := c.SingleFlight("k", func() (Result, error) {
				atomic.AddInt32(&calls, 1)
				return Result{Content: "v"}, nil
			})
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "v", r.Content)
	}
}

func TestFingerprintRefIsStableAndDistinct(t *testing.T) {
	a := FingerprintRef("@x/mod")
	b := FingerprintRef("@x/mod")
	c := FingerprintRef("@y/mod")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRegistryResolverParsesVersionedRef(t *testing.T) {
	fetched := ""
	fetch := func(ctx context.Context, coordinate string) (Result, error) {
		fetched = coordinate
		return Result{Content: "ok"}, nil
	}
	r := NewRegistryResolver([]byte("seed"), fetch, nil)
	_, err := r.Resolve(context.Background(), "@alice/tool@1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "alice/tool@1.2.3", fetched)
}

func TestLocalResolverDeniesEscapingBasePath(t *testing.T) {
	r := NewLocalResolver(LocalConfig{BasePath: "/tmp/modules"})
	assert.False(t, r.CheckAccess("../../etc/passwd", "read"))
}

func TestLocalResolverAlwaysDeniesWrite(t *testing.T) {
	r := NewLocalResolver(LocalConfig{BasePath: "/tmp/modules", Readonly: false})
	assert.False(t, r.CheckAccess("a.mld", "write"))
}
