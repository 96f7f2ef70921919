package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/ast"
	cfg "github.com/mlld-lang/mlld/internal/config"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/pipeline"
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

// stubResolve resolves every ref to the same fixed text, for import tests.
type stubResolve struct{ text string }

func (s stubResolve) Resolve(ctx context.Context, ref string) (*variable.Variable, error) {
	return variable.CreateSimpleText(ref, s.text, variable.Source{}, variable.Options{}), nil
}

func newEnv() (*environment.Environment, *Evaluator) {
	registry := hooks.NewRegistry()
	env := environment.NewRoot(cfg.DefaultOptions(), registry, noResolve{}, noExec{})
	ev := New(registry, pipeline.Config{}, nil)
	return env, ev
}

func TestVarAndShowEmitsInterpolatedText(t *testing.T) {
	env, ev := newEnv()

	varDirective := &ast.Directive{Subtype: ast.DirectiveVar, Fields: map[string]interface{}{
		"name": "name",
		"expr": &ast.Literal{Value: "World"},
	}}
	require.NoError(t, ev.evalDirective(context.Background(), env, varDirective))

	showDirective := &ast.Directive{Subtype: ast.DirectiveShow, Fields: map[string]interface{}{
		"expr": &ast.VariableReference{Name: "name"},
	}}
	require.NoError(t, ev.evalDirective(context.Background(), env, showDirective))

	intents := env.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, "World", intents[0].Text)
}

func TestFieldAccessAndIndexOnStructuredVariable(t *testing.T) {
	env, ev := newEnv()
	data := structured.FromObject(map[string]interface{}{
		"items": []interface{}{"first", "second", "third"},
	})
	env.SetVariable("data", variable.CreateStructured("data", data, variable.Source{}, variable.Options{}))

	ref := &ast.VariableReference{
		Name: "data",
		Fields: []ast.FieldAccessor{
			{Name: "items"},
			{HasIndex: true, Index: 1},
		},
	}
	v, err := ev.EvalExpr(context.Background(), env, ref)
	require.NoError(t, err)
	assert.Equal(t, "second", stringify(v))
}

func TestBinaryArithmeticAndComparison(t *testing.T) {
	env, ev := newEnv()

	sum := &ast.BinaryExpression{Op: "+", LHS: &ast.Literal{Value: 2.0}, RHS: &ast.Literal{Value: 3.0}}
	v, err := ev.EvalExpr(context.Background(), env, sum)
	require.NoError(t, err)
	assert.Equal(t, "5", stringify(v))

	cmp := &ast.BinaryExpression{Op: ">", LHS: &ast.Literal{Value: 5.0}, RHS: &ast.Literal{Value: 3.0}}
	v, err = ev.EvalExpr(context.Background(), env, cmp)
	require.NoError(t, err)
	assert.True(t, truthy(v))

	concat := &ast.BinaryExpression{Op: "+", LHS: &ast.Literal{Value: "foo"}, RHS: &ast.Literal{Value: "bar"}}
	v, err = ev.EvalExpr(context.Background(), env, concat)
	require.NoError(t, err)
	assert.Equal(t, "foobar", stringify(v))
}

func TestWhenFirstStopsAtFirstMatch(t *testing.T) {
	env, ev := newEnv()
	w := &ast.WhenExpression{
		First: true,
		Patterns: []ast.WhenPattern{
			{Cond: &ast.Literal{Value: false}, Action: &ast.Literal{Value: "skip"}},
			{Cond: &ast.Literal{Value: true}, Action: &ast.Literal{Value: "first"}},
			{Cond: &ast.Literal{Value: true}, Action: &ast.Literal{Value: "second"}},
		},
	}
	v, err := ev.evalWhenExpr(context.Background(), env, w)
	require.NoError(t, err)
	assert.Equal(t, "first", stringify(v))
}

func TestWhenNoMatchReturnsEmptyText(t *testing.T) {
	env, ev := newEnv()
	w := &ast.WhenExpression{
		Patterns: []ast.WhenPattern{
			{Cond: &ast.Literal{Value: false}, Action: &ast.Literal{Value: "never"}},
		},
	}
	v, err := ev.evalWhenExpr(context.Background(), env, w)
	require.NoError(t, err)
	assert.Equal(t, "", stringify(v))
}

// TestWhenArrayRunsEveryMatchingActionInOrder: the non-`first` form runs
// every matching pattern's effects, not just the first one, even though it
// still returns the first match's value.
func TestWhenArrayRunsEveryMatchingActionInOrder(t *testing.T) {
	env, ev := newEnv()

	showOf := func(text string) ast.Node {
		return &ast.ExeBlock{Statements: []ast.Node{
			&ast.Directive{Subtype: ast.DirectiveShow, Fields: map[string]interface{}{"expr": &ast.Literal{Value: text}}},
		}}
	}

	w := &ast.WhenExpression{
		Patterns: []ast.WhenPattern{
			{Cond: &ast.Literal{Value: true}, Action: showOf("one")},
			{Cond: &ast.Literal{Value: false}, Action: showOf("skipped")},
			{Cond: &ast.Literal{Value: true}, Action: showOf("two")},
		},
	}
	v, err := ev.evalWhenExpr(context.Background(), env, w)
	require.NoError(t, err)
	assert.Equal(t, "one", stringify(v))

	intents := env.Intents()
	require.Len(t, intents, 2)
	assert.Equal(t, "one", intents[0].Text)
	assert.Equal(t, "two", intents[1].Text)
}

// TestForParallelPreservesInputOrder covers invariant #2 (§8): batched
// parallel iterations must flush in input order regardless of completion
// order among the goroutines within a batch.
func TestForParallelPreservesInputOrder(t *testing.T) {
	env, ev := newEnv()

	coll := make([]interface{}, 0, 8)
	for i := 0; i < 8; i++ {
		coll = append(coll, float64(i))
	}

	f := &ast.ForExpression{
		ValueVar: "n",
		Coll:     &ast.Literal{Value: nil}, // replaced below
		Body: &ast.BinaryExpression{
			Op:  "*",
			LHS: &ast.VariableReference{Name: "n"},
			RHS: &ast.Literal{Value: 2.0},
		},
		Parallel: 4,
	}
	env.SetVariable("items", variable.CreateStructured("items", structured.FromArray(coll), variable.Source{}, variable.Options{}))
	f.Coll = &ast.VariableReference{Name: "items"}

	result, err := ev.evalForExpr(context.Background(), env, f)
	require.NoError(t, err)

	sv, ok := result.Value.(structured.Value)
	require.True(t, ok)
	arr, ok := sv.AsArray()
	require.True(t, ok)
	require.Len(t, arr, 8)
	for i, el := range arr {
		assert.Equal(t, float64(i*2), el)
	}
}

func TestToolsValidationRejectsUnboundRequiredParam(t *testing.T) {
	env, ev := newEnv()

	exe := variable.Executable{Params: []string{"query", "limit"}, Body: &ast.Literal{Value: ""}, Language: variable.LangTemplate}
	env.SetVariable("search", variable.CreateExecutable("search", exe, variable.Source{}, variable.Options{}))

	toolsDirective := &ast.Directive{Subtype: ast.DirectiveVar, Fields: map[string]interface{}{
		"name": "tools",
		"toolsEntries": map[string]ToolEntrySpec{
			"search": {
				Fn:   &ast.VariableReference{Name: "search"},
				Bind: map[string]string{"limit": "10"},
				// "query" is neither bound nor exposed.
			},
		},
	}}

	err := ev.evalDirective(context.Background(), env, toolsDirective)
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ExposeMissingRequired))
}

func TestToolsValidationAcceptsFullyCoveredParams(t *testing.T) {
	env, ev := newEnv()

	exe := variable.Executable{Params: []string{"query", "limit"}, Body: &ast.Literal{Value: ""}, Language: variable.LangTemplate}
	env.SetVariable("search", variable.CreateExecutable("search", exe, variable.Source{}, variable.Options{}))

	toolsDirective := &ast.Directive{Subtype: ast.DirectiveVar, Fields: map[string]interface{}{
		"name": "tools",
		"toolsEntries": map[string]ToolEntrySpec{
			"search": {
				Fn:     &ast.VariableReference{Name: "search"},
				Bind:   map[string]string{"limit": "10"},
				Expose: []string{"query"},
			},
		},
	}}

	require.NoError(t, ev.evalDirective(context.Background(), env, toolsDirective))
	v, ok := env.GetVariable("tools")
	require.True(t, ok)
	assert.True(t, v.IsToolCollection())
}

// TestImportCycleDetected covers invariant §8 S7: a module that imports
// itself (directly or transitively) fails with IMPORT_CYCLE rather than
// recursing forever.
func TestImportCycleDetected(t *testing.T) {
	registry := hooks.NewRegistry()
	env := environment.NewRoot(cfg.DefaultOptions(), registry, stubResolve{text: "module body"}, noExec{})

	selfImporting := func(source string) (*ast.Document, error) {
		return &ast.Document{Children: []ast.Node{
			&ast.Directive{Subtype: ast.DirectiveImport, Fields: map[string]interface{}{
				"source": "mod",
				"kind":   environment.ImportNamespace,
				"alias":  "m",
			}},
		}}, nil
	}
	ev := New(registry, pipeline.Config{}, selfImporting)

	d := &ast.Directive{Subtype: ast.DirectiveImport, Fields: map[string]interface{}{
		"source": "mod",
		"kind":   environment.ImportNamespace,
		"alias":  "m",
	}}
	err := ev.evalDirective(context.Background(), env, d)
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ImportCycle))
}

func TestExecInvocationBindsPositionalParams(t *testing.T) {
	env, ev := newEnv()

	exe := variable.Executable{
		Params:   []string{"a", "b"},
		Body:     &ast.BinaryExpression{Op: "+", LHS: &ast.VariableReference{Name: "a"}, RHS: &ast.VariableReference{Name: "b"}},
		Language: variable.LangMlld,
	}
	env.SetVariable("add", variable.CreateExecutable("add", exe, variable.Source{}, variable.Options{}))

	inv := &ast.ExecInvocation{
		Name:       "add",
		Positional: []ast.Node{&ast.Literal{Value: 2.0}, &ast.Literal{Value: 3.0}},
	}
	v, err := ev.EvalExpr(context.Background(), env, inv)
	require.NoError(t, err)
	assert.Equal(t, "5", stringify(v))
}

func TestVariableNotFoundSuggestsNearestName(t *testing.T) {
	env, ev := newEnv()
	env.SetVariable("username", variable.CreateSimpleText("username", "ok", variable.Source{}, variable.Options{}))

	_, err := ev.EvalExpr(context.Background(), env, &ast.VariableReference{Name: "usernme"})
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.VariableNotFound))
	assert.Contains(t, err.Error(), "username")
}
