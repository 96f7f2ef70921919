package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// evalExe defines an executable Variable (§4.5). The body's shadow
// environment is captured at definition time (lexical scope), not at call
// time, so a later call sees the callables that existed when /exe ran.
func (ev *Evaluator) evalExe(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	name, _ := d.Fields["name"].(string)
	if name == "" {
		return mllderr.New(mllderr.InvalidDirective, "/exe requires a variable name").At(loc(d.Loc()))
	}
	params, _ := d.Fields["params"].([]string)
	body, _ := d.Fields["body"].(ast.Node)
	if body == nil {
		return mllderr.New(mllderr.InvalidDirective, "/exe @%s has no body", name).At(loc(d.Loc()))
	}
	lang := languageOf(d, body)

	streaming, _ := d.Fields["streaming"].(bool)
	exe := variable.Executable{
		Params:    params,
		Body:      body,
		Language:  lang,
		Shadow:    env.CaptureShadowEnvironment(lang),
		Labels:    fieldStrings(d.Fields, "labels"),
		Streaming: streaming,
	}
	v := variable.CreateExecutable(name, exe, variable.Source{Directive: "exe"}, variable.Options{})
	env.SetVariable(name, v)
	return nil
}

// languageOf derives an executable's body language: an explicit field set
// by the grammar for code/template bodies, else LangMlld for an ExeBlock.
func languageOf(d *ast.Directive, body ast.Node) variable.Language {
	if lang, ok := d.Fields["language"].(string); ok && lang != "" {
		return variable.Language(lang)
	}
	switch body.(type) {
	case *ast.ExeBlock:
		return variable.LangMlld
	default:
		return variable.LangTemplate
	}
}
