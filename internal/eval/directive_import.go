package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

func namespaceVariable(name string, obj map[string]interface{}) *variable.Variable {
	return variable.CreateStructured(name, structured.FromObject(obj), variable.Source{Directive: "import"}, variable.Options{})
}

type importDepthKey struct{}

func importDepth(ctx context.Context) int {
	if n, ok := ctx.Value(importDepthKey{}).(int); ok {
		return n
	}
	return 0
}

func withImportDepth(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, importDepthKey{}, n)
}

const defaultImportDepthCap = 3

// evalImport resolves `@src` through the resolver framework, parses and
// evaluates it in a fresh child environment (expression mode: the child's
// intents are discarded, only its exported bindings matter), then merges
// the exports back per the named or namespace form (§4.5).
func (ev *Evaluator) evalImport(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	src, _ := d.Fields["source"].(string)
	if src == "" {
		return mllderr.New(mllderr.InvalidDirective, "/import requires a source reference").At(loc(d.Loc()))
	}

	depth := importDepth(ctx)
	if depth >= defaultImportDepthCap {
		return mllderr.New(mllderr.ImportDepthExceeded, "import depth exceeded resolving %q (cap %d)", src, defaultImportDepthCap).At(loc(d.Loc()))
	}
	if chain, cyc := env.CheckImportCycle(src); cyc {
		return mllderr.New(mllderr.ImportCycle, "import cycle detected: %v", chain).At(loc(d.Loc()))
	}
	env.RecordImport(src)

	modVar, err := env.GetResolverVariable(ctx, src)
	if err != nil {
		return err
	}
	if ev.parse == nil {
		return mllderr.New(mllderr.ModuleNotFound, "no module parser configured, cannot import %q", src).At(loc(d.Loc()))
	}
	doc, err := ev.parse(stringify(modVar))
	if err != nil {
		return mllderr.Wrap(mllderr.ModuleNotFound, err, "parsing imported module %q", src)
	}

	child := env.CreateChild()
	childCtx := withImportDepth(ctx, depth+1)
	for _, n := range doc.Children {
		if err := ev.evalTopLevel(childCtx, child, n); err != nil {
			return err
		}
	}

	kind, _ := d.Fields["kind"].(environment.ImportKind)
	named, _ := d.Fields["names"].([]environment.NamedImport)
	alias, _ := d.Fields["alias"].(string)

	return env.MergeChildExports(child, kind, named, alias, func(exports map[string]*variable.Variable) *variable.Variable {
		obj := make(map[string]interface{}, len(exports))
		for k, v := range exports {
			obj[k] = rawValue(v)
		}
		return namespaceVariable(alias, obj)
	})
}
