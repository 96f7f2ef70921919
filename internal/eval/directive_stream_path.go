package eval

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// evalStream implements the bare /stream directive (§4.5): flips the
// Streaming flag on an already-defined executable. The `stream /exe …`
// prefixed form instead sets Executable.Streaming directly in evalExe
// (via the "streaming" field), never reaching here.
func (ev *Evaluator) evalStream(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	name, _ := d.Fields["name"].(string)
	if name == "" {
		return mllderr.New(mllderr.InvalidDirective, "/stream requires a target executable name").At(loc(d.Loc()))
	}
	enabled := true
	if e, ok := d.Fields["enabled"].(bool); ok {
		enabled = e
	}

	v, ok := env.GetVariable(name)
	if !ok {
		return notFoundWithSuggestion(env, &ast.VariableReference{Name: name})
	}
	if !v.IsExecutable() {
		return mllderr.New(mllderr.InvalidValueType, "/stream target %q is not an executable", name).At(loc(d.Loc()))
	}
	exe := v.Value.(variable.Executable)
	exe.Streaming = enabled
	if enabled && ev.hasAfterGuard(name) {
		return mllderr.New(mllderr.StreamAfterGuardConflict, "%q has an after-guard and cannot stream by default", name).At(loc(d.Loc()))
	}
	updated := variable.CreateExecutable(name, exe, v.Source, variable.Options{Security: v.Security})
	return env.ReassignVariable(name, updated)
}

// evalPath implements /path @n = expr (§4.5): evaluates a path expression
// into a validated structured PathValue, enforcing that absolute paths
// outside the configured policy are rejected with PATH_INVALID.
func (ev *Evaluator) evalPath(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	name, _ := d.Fields["name"].(string)
	if name == "" {
		return mllderr.New(mllderr.InvalidDirective, "/path requires a variable name").At(loc(d.Loc()))
	}
	expr, _ := d.Fields["expr"].(ast.Node)
	if expr == nil {
		return mllderr.New(mllderr.InvalidDirective, "/path @%s has no expression", name).At(loc(d.Loc()))
	}
	v, err := ev.evalNode(ctx, env, expr)
	if err != nil {
		return err
	}
	raw := stringify(v)
	isAbs := filepath.IsAbs(raw)
	if isAbs && !env.Options().AllowAbsolutePaths {
		return mllderr.New(mllderr.PathInvalid, "absolute path %q is not allowed by policy", raw).At(loc(d.Loc()))
	}

	clean := filepath.Clean(raw)
	segments := strings.Split(strings.Trim(clean, string(filepath.Separator)), string(filepath.Separator))
	pv := variable.PathValue{
		ResolvedPath: clean,
		IsAbsolute:   isAbs,
		IsSecure:     !strings.Contains(clean, ".."),
		Base:         filepath.Base(clean),
		Segments:     segments,
	}
	if !pv.IsSecure {
		return mllderr.New(mllderr.PathInvalid, "path %q escapes its base via '..'", raw).At(loc(d.Loc()))
	}

	pathVar := variable.CreatePath(name, pv, variable.Source{Directive: "path"}, variable.Options{Security: v.Security})
	env.SetVariable(name, pathVar)
	return nil
}
