package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/mlld-lang/mlld/internal/config"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

type fakeExecutor struct{}

func (fakeExecutor) ExecuteCommand(ctx context.Context, cmd string, opts CommandOptions) (string, error) {
	return "", nil
}
func (fakeExecutor) ExecuteCode(ctx context.Context, code, language string, params map[string]*variable.Variable) (string, error) {
	return "", nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref string) (*variable.Variable, error) {
	return variable.CreateSimpleText(ref, "resolved", variable.Source{}, variable.Options{}), nil
}

func newTestRoot() *Environment {
	return NewRoot(cfg.DefaultOptions(), nil, fakeResolver{}, fakeExecutor{})
}

func TestChildShadowsWithoutMutatingParent(t *testing.T) {
	root := newTestRoot()
	root.SetVariable("x", variable.CreateSimpleText("x", "parent", variable.Source{}, variable.Options{}))

	child := root.CreateChild()
	child.SetVariable("x", variable.CreateSimpleText("x", "child", variable.Source{}, variable.Options{}))

	cv, _ := child.GetVariable("x")
	pv, _ := root.GetVariable("x")
	assert.Equal(t, "child", cv.Value)
	assert.Equal(t, "parent", pv.Value)
}

func TestReassignUpdatesAncestorBinding(t *testing.T) {
	root := newTestRoot()
	root.SetVariable("x", variable.CreateSimpleText("x", "1", variable.Source{}, variable.Options{}))
	child := root.CreateChild()

	err := child.ReassignVariable("x", variable.CreateSimpleText("x", "2", variable.Source{}, variable.Options{}))
	require.NoError(t, err)

	pv, _ := root.GetVariable("x")
	assert.Equal(t, "2", pv.Value)
}

func TestReassignUndeclaredFails(t *testing.T) {
	root := newTestRoot()
	err := root.ReassignVariable("missing", nil)
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.VariableNotFound))
}

func TestNamedImportCollision(t *testing.T) {
	root := newTestRoot()
	root.SetVariable("a", variable.CreateSimpleText("a", "existing", variable.Source{}, variable.Options{}))

	mod := root.CreateChild()
	mod.SetVariable("a", variable.CreateSimpleText("a", "imported", variable.Source{}, variable.Options{}))

	err := root.MergeChildExports(mod, ImportNamed, []NamedImport{{Name: "a"}}, "", nil)
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ImportCollision))
}

func TestNamedImportWithAliasAvoidsCollision(t *testing.T) {
	root := newTestRoot()
	root.SetVariable("a", variable.CreateSimpleText("a", "existing", variable.Source{}, variable.Options{}))

	mod := root.CreateChild()
	mod.SetVariable("a", variable.CreateSimpleText("a", "imported", variable.Source{}, variable.Options{}))

	err := root.MergeChildExports(mod, ImportNamed, []NamedImport{{Name: "a", Alias: "b"}}, "", nil)
	require.NoError(t, err)
	v, ok := root.GetVariable("b")
	require.True(t, ok)
	assert.Equal(t, "imported", v.Value)
}

func TestNamespaceImportAlwaysShadows(t *testing.T) {
	root := newTestRoot()
	root.SetVariable("ns", variable.CreateSimpleText("ns", "existing", variable.Source{}, variable.Options{}))
	mod := root.CreateChild()
	mod.SetVariable("a", variable.CreateSimpleText("a", "1", variable.Source{}, variable.Options{}))

	err := root.MergeChildExports(mod, ImportNamespace, nil, "ns", func(exports map[string]*variable.Variable) *variable.Variable {
		return variable.CreateSimpleText("ns", "namespace-object", variable.Source{}, variable.Options{})
	})
	require.NoError(t, err)
	v, _ := root.GetVariable("ns")
	assert.Equal(t, "namespace-object", v.Value)
}

func TestAppendStateWriteDeduplicatesKeepFirst(t *testing.T) {
	root := newTestRoot()
	root.AppendStateWrite("t", "x", 1)
	root.AppendStateWrite("t", "x", 2)
	writes := root.GetStateWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, int64(1), writes[0].Timestamp)
}

func TestCaptureShadowEnvironmentMergesAncestorChain(t *testing.T) {
	root := newTestRoot()
	fn := variable.CreateSimpleText("fn", "root-fn", variable.Source{}, variable.Options{})
	root.SetShadowEnv(variable.LangJS, variable.ShadowEnv{"fn": fn})

	child := root.CreateChild()
	childFn := variable.CreateSimpleText("fn2", "child-fn", variable.Source{}, variable.Options{})
	child.SetShadowEnv(variable.LangJS, variable.ShadowEnv{"fn2": childFn})

	merged := child.CaptureShadowEnvironment(variable.LangJS)
	assert.Contains(t, merged, "fn")
	assert.Contains(t, merged, "fn2")
}
