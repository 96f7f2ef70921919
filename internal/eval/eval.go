// Package eval implements the directive evaluator (C5): the tree-walking
// dispatcher that turns parsed AST nodes into Environment mutations and
// intent-stream effects, wiring together the value model, interpolation
// engine, pipeline engine, hook & guard runtime, resolver framework and
// exec collaborator built elsewhere in this module.
package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mlld-lang/mlld/internal/ast"
	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/emitter"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/interpolation"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/pipeline"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// ModuleParser parses resolved module source text into a document, closing
// the seam to the external grammar package without this package importing
// it directly (keeps the parser swappable and avoids an import cycle).
type ModuleParser func(source string) (*ast.Document, error)

// Evaluator walks a parsed document against a root Environment, dispatching
// each directive and expression node per §4.5.
type Evaluator struct {
	hooks   *hooks.Registry
	interp  *interpolation.Engine
	pipeCfg pipeline.Config
	parse   ModuleParser
}

// New builds an Evaluator. The interpolation engine's ExprEvaluator/FileLoader
// collaborators are wired back to this Evaluator's own methods by the
// caller (see NewWithEnvironment) to close the capability-interface seams
// interpolation and pipeline expose to avoid import cycles. parse resolves
// /import module text into a document; pass nil when the host never needs
// to evaluate /import (e.g. single-file embedding).
func New(hookRegistry *hooks.Registry, pipeCfg pipeline.Config, parse ModuleParser) *Evaluator {
	if pipeCfg.MaxAttempts <= 0 {
		pipeCfg.MaxAttempts = 3
	}
	ev := &Evaluator{hooks: hookRegistry, pipeCfg: pipeCfg, parse: parse}
	ev.interp = interpolation.New(ev.EvalExpr, ev.LoadFileRef)
	return ev
}

// EvalExpr implements interpolation.ExprEvaluator.
func (ev *Evaluator) EvalExpr(ctx context.Context, env *environment.Environment, node ast.Node) (*variable.Variable, error) {
	return ev.evalNode(ctx, env, node)
}

// LoadFileRef implements interpolation.FileLoader, resolving a file
// reference through the resolver framework.
func (ev *Evaluator) LoadFileRef(ctx context.Context, env *environment.Environment, ref *ast.FileReference) (*variable.Variable, error) {
	pathVar, err := ev.evalNode(ctx, env, ref.Path)
	if err != nil {
		return nil, err
	}
	path := stringify(pathVar)
	v, err := env.GetResolverVariable(ctx, path)
	if err != nil {
		return nil, err
	}
	if ref.Section != "" {
		return extractSection(v, ref.Section)
	}
	return v, nil
}

// EvaluateDocument walks every top-level node in doc against root,
// accumulating intents in root's buffer, then renders the reconstructed
// document (§4.10).
func (ev *Evaluator) EvaluateDocument(ctx context.Context, root *environment.Environment, doc *ast.Document) (string, error) {
	for _, n := range doc.Children {
		if err := ev.evalTopLevel(ctx, root, n); err != nil {
			return "", err
		}
	}
	return emitter.VisibleRender(root.Intents()), nil
}

func (ev *Evaluator) evalTopLevel(ctx context.Context, env *environment.Environment, n ast.Node) error {
	switch node := n.(type) {
	case *ast.Text:
		env.EmitIntent(emitter.Content(node.Value, emitter.SourceText, emitter.VisibilityAlways))
		return nil
	case *ast.Newline:
		env.EmitIntent(emitter.Break("\n"))
		return nil
	case *ast.Comment:
		return nil
	case *ast.Frontmatter:
		return nil
	case *ast.CodeFence:
		env.EmitIntent(emitter.Content(node.Value, emitter.SourceText, emitter.VisibilityAlways))
		return nil
	case *ast.MlldRunBlock:
		_, err := env.ExecuteCommand(ctx, node.Command, environment.CommandOptions{})
		return err
	case *ast.Directive:
		return ev.evalDirective(ctx, env, node)
	default:
		_, err := ev.evalNode(ctx, env, n)
		return err
	}
}

// evalDirective wraps a directive's effect in the five-step hook contract
// described in §4.5: push an operation context, run before-hooks, compute
// the effect, run after-hooks, pop the operation context.
func (ev *Evaluator) evalDirective(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	opKind := "op:" + string(d.Subtype)
	labels := fieldStrings(d.Fields, "labels")
	ctxMgr := env.GetContextManager()

	ctxMgr.PushOperation(gocontext.OperationFrame{Type: string(d.Subtype), Labels: labels})
	defer ctxMgr.PopOperation()

	before := hooks.RunBefore(ctx, ctxMgr, ev.hooks.MatchingBefore(opKind, labels, "", ""), nil)
	if before.Denied {
		return mllderr.New(mllderr.GuardDeny, "%s", before.Message).At(loc(d.Loc()))
	}

	if err := ev.dispatchDirective(ctx, env, d); err != nil {
		return err
	}

	hooks.RunAfter(ctx, ctxMgr, ev.hooks.MatchingAfter(opKind, labels, "", ""), nil)
	return nil
}

func (ev *Evaluator) dispatchDirective(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	switch d.Subtype {
	case ast.DirectiveVar:
		return ev.evalVar(ctx, env, d)
	case ast.DirectiveShow:
		return ev.evalShow(ctx, env, d)
	case ast.DirectiveRun:
		return ev.evalRun(ctx, env, d)
	case ast.DirectiveExe:
		return ev.evalExe(ctx, env, d)
	case ast.DirectiveImport:
		return ev.evalImport(ctx, env, d)
	case ast.DirectiveOutput:
		return ev.evalOutput(ctx, env, d, false)
	case ast.DirectiveAppend:
		return ev.evalOutput(ctx, env, d, true)
	case ast.DirectiveWhen:
		return ev.evalWhen(ctx, env, d)
	case ast.DirectiveFor:
		return ev.evalFor(ctx, env, d)
	case ast.DirectiveLoop:
		return ev.evalLoop(ctx, env, d)
	case ast.DirectiveHook:
		return ev.evalHook(ctx, env, d)
	case ast.DirectiveGuard:
		return ev.evalGuard(ctx, env, d)
	case ast.DirectiveStream:
		return ev.evalStream(ctx, env, d)
	case ast.DirectivePath:
		return ev.evalPath(ctx, env, d)
	default:
		return mllderr.New(mllderr.InvalidDirective, "unknown directive subtype %q", d.Subtype).At(loc(d.Loc()))
	}
}

// evalNode evaluates an expression node to a Variable.
func (ev *Evaluator) evalNode(ctx context.Context, env *environment.Environment, n ast.Node) (*variable.Variable, error) {
	switch node := n.(type) {
	case *ast.Literal:
		return ev.evalLiteral(node), nil
	case *ast.VariableReference:
		return ev.evalVariableReference(ctx, env, node)
	case *ast.VariableReferenceWithTail:
		return ev.evalVariableReferenceWithTail(ctx, env, node)
	case *ast.ExecInvocation:
		return ev.evalExecInvocation(ctx, env, node)
	case *ast.BinaryExpression:
		return ev.evalBinary(ctx, env, node)
	case *ast.UnaryExpression:
		return ev.evalUnary(ctx, env, node)
	case *ast.TernaryExpression:
		return ev.evalTernary(ctx, env, node)
	case *ast.NewExpression:
		return ev.evalNode(ctx, env, node.Value)
	case *ast.Array:
		return ev.evalArray(ctx, env, node)
	case *ast.Object:
		return ev.evalObject(ctx, env, node)
	case *ast.WhenExpression:
		return ev.evalWhenExpr(ctx, env, node)
	case *ast.ForExpression:
		return ev.evalForExpr(ctx, env, node)
	case *ast.LoopExpression:
		return ev.evalLoopExpr(ctx, env, node)
	case *ast.FileReference:
		return ev.LoadFileRef(ctx, env, node)
	case *ast.LoadContent:
		return variable.CreateSimpleText("", node.Content, variable.Source{}, variable.Options{}), nil
	case *ast.Command:
		return ev.evalCommandNode(ctx, env, node)
	case *ast.Code:
		return ev.evalCodeNode(ctx, env, node)
	case *ast.ExeBlock:
		return ev.evalExeBlock(ctx, env, node)
	default:
		return nil, mllderr.New(mllderr.InvalidNodeType, "cannot evaluate node of kind %q as an expression", n.NodeKind()).At(loc(n.Loc()))
	}
}

func (ev *Evaluator) evalLiteral(l *ast.Literal) *variable.Variable {
	switch v := l.Value.(type) {
	case string:
		return variable.CreateSimpleText("", v, variable.Source{Syntax: "literal"}, variable.Options{})
	case float64:
		return variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveNumber, Number: v}, variable.Source{}, variable.Options{})
	case bool:
		return variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveBoolean, Bool: v}, variable.Source{}, variable.Options{})
	default:
		return variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveNull}, variable.Source{}, variable.Options{})
	}
}

func (ev *Evaluator) evalVariableReference(ctx context.Context, env *environment.Environment, ref *ast.VariableReference) (*variable.Variable, error) {
	base, ok := env.GetVariable(ref.Name)
	if !ok {
		if ref.Name == "mx" {
			base = mxVariable(env.GetContextManager())
		} else {
			return nil, notFoundWithSuggestion(env, ref)
		}
	}
	return interpolation.ResolveFieldChain(ctx, env, base, ref.Fields, ev.EvalExpr)
}

// mxVariable builds the read-only @mx view (§3.3/§4.5) from the
// ContextManager's live for/loop/hook-error state, computed fresh on every
// reference since it reflects whatever frame is active at access time.
func mxVariable(ctxMgr *gocontext.Manager) *variable.Variable {
	obj := map[string]interface{}{}

	if f, ok := ctxMgr.CurrentFor(); ok {
		obj["for"] = map[string]interface{}{
			"index":      float64(f.Index),
			"total":      float64(f.Total),
			"batchIndex": float64(f.BatchIndex),
			"batchSize":  float64(f.BatchSize),
		}
	}

	iteration, limit, active := ctxMgr.Loop()
	obj["loop"] = map[string]interface{}{
		"iteration": float64(iteration),
		"limit":     float64(limit),
		"active":    active,
	}

	errs := ctxMgr.HooksErrors()
	errList := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		errList = append(errList, map[string]interface{}{"hookName": e.HookName, "message": e.Message})
	}
	obj["hooks"] = map[string]interface{}{"errors": errList}

	return variable.CreateStructured("mx", structured.FromObject(obj), variable.Source{}, variable.Options{})
}

func notFoundWithSuggestion(env *environment.Environment, ref *ast.VariableReference) error {
	candidates := env.ExportedNames()
	msg := fmt.Sprintf("variable not found: @%s", ref.Name)
	if ranks := fuzzy.RankFindFold(ref.Name, candidates); len(ranks) > 0 {
		msg += fmt.Sprintf(" (did you mean @%s?)", ranks[0].Target)
	}
	return mllderr.New(mllderr.VariableNotFound, "%s", msg).At(loc(ref.Loc()))
}

func (ev *Evaluator) evalVariableReferenceWithTail(ctx context.Context, env *environment.Environment, n *ast.VariableReferenceWithTail) (*variable.Variable, error) {
	base, err := ev.evalVariableReference(ctx, env, n.Ref)
	if err != nil {
		return nil, err
	}
	current := base
	var stages []pipeline.Stage
	for _, t := range n.Tail {
		stage, err := ev.tailToStage(ctx, env, t)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if len(stages) == 0 {
		return current, nil
	}
	runner := ev.newPipelineRunner(env)
	return pipeline.RunPipeline(ctx, runner, stages, toPipelineInput(current))
}

func (ev *Evaluator) evalArray(ctx context.Context, env *environment.Environment, a *ast.Array) (*variable.Variable, error) {
	out := make([]interface{}, 0, len(a.Elements))
	desc := security.Empty()
	for _, el := range a.Elements {
		v, err := ev.evalNode(ctx, env, el)
		if err != nil {
			return nil, err
		}
		out = append(out, rawValue(v))
		desc = security.Merge(desc, v.Security)
	}
	return variable.CreateStructured("", structured.FromArray(out), variable.Source{}, variable.Options{Security: desc}), nil
}

func (ev *Evaluator) evalObject(ctx context.Context, env *environment.Environment, o *ast.Object) (*variable.Variable, error) {
	out := make(map[string]interface{}, len(o.Keys))
	desc := security.Empty()
	for _, k := range o.Keys {
		v, err := ev.evalNode(ctx, env, o.Values[k])
		if err != nil {
			return nil, err
		}
		out[k] = rawValue(v)
		desc = security.Merge(desc, v.Security)
	}
	return variable.CreateStructured("", structured.FromObject(out), variable.Source{}, variable.Options{Security: desc}), nil
}

// rawValue decodes a Variable back into a plain interface{} for embedding
// inside an array/object structured payload.
func rawValue(v *variable.Variable) interface{} {
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveNumber:
			return p.Number
		case variable.PrimitiveBoolean:
			return p.Bool
		default:
			return nil
		}
	case variable.KindStructured, variable.KindPipelineInput:
		sv := v.Value.(structured.Value)
		if obj, ok := sv.AsObject(); ok {
			return obj
		}
		if arr, ok := sv.AsArray(); ok {
			return arr
		}
		return sv.AsText()
	default:
		return stringify(v)
	}
}

// extractSection extracts one markdown heading section (from its heading
// line up to the next heading of equal or higher level) out of a loaded
// file's text content, for `<path # Section>` file references (§4.3/§6.1).
func extractSection(v *variable.Variable, section string) (*variable.Variable, error) {
	text := stringify(v)
	lines := strings.Split(text, "\n")

	startLevel, start := -1, -1
	for i, line := range lines {
		level, title := headingOf(line)
		if level > 0 && strings.EqualFold(strings.TrimSpace(title), section) {
			startLevel, start = level, i
			break
		}
	}
	if start < 0 {
		return nil, mllderr.New(mllderr.FieldNotFound, "section %q not found", section)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if level, _ := headingOf(lines[i]); level > 0 && level <= startLevel {
			end = i
			break
		}
	}

	extracted := strings.Join(lines[start:end], "\n")
	return variable.CreateSimpleText(v.Name, extracted, v.Source, variable.Options{Security: v.Security}), nil
}

func headingOf(line string) (level int, title string) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, ""
	}
	return n, trimmed[n+1:]
}

// extractSignalCall recognizes a control-flow signal call (`retry`,
// `continue`, `done`) at the tail of a body: either the node itself, or
// the return expression of an ExeBlock ending in ExeReturn. Used by both
// /loop (done/continue) and pipeline stages (retry/continue/done) to read
// a body's signal without a dedicated AST node for each keyword.
func extractSignalCall(n ast.Node) (name string, arg ast.Node, ok bool) {
	switch node := n.(type) {
	case *ast.ExecInvocation:
		switch node.Name {
		case "retry", "continue", "done":
			var a ast.Node
			if len(node.Positional) > 0 {
				a = node.Positional[0]
			}
			return node.Name, a, true
		}
	case *ast.ExeBlock:
		if len(node.Statements) > 0 {
			if ret, ok := node.Statements[len(node.Statements)-1].(*ast.ExeReturn); ok {
				return extractSignalCall(ret.Expr)
			}
		}
	}
	return "", nil, false
}

// wrapVariable is rawValue's inverse: wraps a decoded structured element
// (string/float64/bool/map/slice/nil) back into a Variable, e.g. for /for
// to bind a collection element to its loop variable.
func wrapVariable(name string, raw interface{}) *variable.Variable {
	switch val := raw.(type) {
	case string:
		return variable.CreateSimpleText(name, val, variable.Source{}, variable.Options{})
	case float64:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveNumber, Number: val}, variable.Source{}, variable.Options{})
	case bool:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveBoolean, Bool: val}, variable.Source{}, variable.Options{})
	case nil:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveNull}, variable.Source{}, variable.Options{})
	case map[string]interface{}:
		return variable.CreateStructured(name, structured.FromObject(val), variable.Source{}, variable.Options{})
	case []interface{}:
		return variable.CreateStructured(name, structured.FromArray(val), variable.Source{}, variable.Options{})
	default:
		return variable.CreateSimpleText(name, stringify(nil), variable.Source{}, variable.Options{})
	}
}

func stringify(v *variable.Variable) string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindStructured, variable.KindPipelineInput:
		return v.Value.(structured.Value).AsText()
	case variable.KindPath:
		return v.Value.(variable.PathValue).ResolvedPath
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveNumber:
			return fmt.Sprintf("%g", p.Number)
		case variable.PrimitiveBoolean:
			return fmt.Sprintf("%t", p.Bool)
		default:
			return "null"
		}
	default:
		return ""
	}
}

func fieldStrings(fields map[string]interface{}, key string) []string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func loc(l ast.Location) *mllderr.Location {
	return &mllderr.Location{Line: l.Start.Line, Column: l.Start.Column, FilePath: l.FilePath}
}
