package interpolation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/ast"
	cfg "github.com/mlld-lang/mlld/internal/config"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

type noExec struct{}

func (noExec) ExecuteCommand(ctx context.Context, cmd string, opts environment.CommandOptions) (string, error) {
	return "", nil
}
func (noExec) ExecuteCode(ctx context.Context, code, language string, params map[string]*variable.Variable) (string, error) {
	return "", nil
}

type noResolve struct{}

func (noResolve) Resolve(ctx context.Context, ref string) (*variable.Variable, error) {
	return nil, mllderr.New(mllderr.ModuleNotFound, "no resolver wired in test")
}

func newEnv() *environment.Environment {
	return environment.NewRoot(cfg.DefaultOptions(), nil, noResolve{}, noExec{})
}

func TestInterpolateTextAndVarRefS1(t *testing.T) {
	env := newEnv()
	env.SetVariable("name", variable.CreateSimpleText("name", "World", variable.Source{}, variable.Options{}))

	eng := New(nil, nil)
	parts := []Part{
		{Kind: PartText, Text: "Hello, "},
		{Kind: PartVarRef, Ref: &ast.VariableReference{Name: "name"}},
		{Kind: PartText, Text: "!"},
	}
	out, _, err := eng.Interpolate(context.Background(), env, parts, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)
}

func TestFieldAccessS2(t *testing.T) {
	env := newEnv()
	data := structured.FromObject(map[string]interface{}{
		"numbers": map[string]interface{}{"123": "x"},
	})
	env.SetVariable("data", variable.CreateStructured("data", data, variable.Source{}, variable.Options{}))

	eng := New(nil, nil)
	parts := []Part{{Kind: PartVarRef, Ref: &ast.VariableReference{
		Name:   "data",
		Fields: []ast.FieldAccessor{{Name: "numbers"}, {Name: "123"}},
	}}}
	out, _, err := eng.Interpolate(context.Background(), env, parts, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestFieldAccessMissingKeyStrict(t *testing.T) {
	env := newEnv()
	data := structured.FromObject(map[string]interface{}{
		"numbers": map[string]interface{}{"123": "x"},
	})
	env.SetVariable("data", variable.CreateStructured("data", data, variable.Source{}, variable.Options{}))

	eng := New(nil, nil)
	parts := []Part{{Kind: PartVarRef, Ref: &ast.VariableReference{
		Name:   "data",
		Fields: []ast.FieldAccessor{{Name: "numbers"}, {Name: "999"}},
	}}}
	_, _, err := eng.Interpolate(context.Background(), env, parts, Options{Strict: true})
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.FieldNotFound))
}

func TestNonStrictRecoversToEmptyString(t *testing.T) {
	env := newEnv()
	eng := New(nil, nil)
	parts := []Part{
		{Kind: PartText, Text: "a"},
		{Kind: PartVarRef, Ref: &ast.VariableReference{Name: "missing"}},
		{Kind: PartText, Text: "b"},
	}
	out, _, err := eng.Interpolate(context.Background(), env, parts, Options{Strict: false})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestShellEscapingQuotesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "plain", shellEscape("plain"))
	assert.Equal(t, `'it'\''s'`, shellEscape("it's"))
}
