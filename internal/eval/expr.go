package eval

import (
	"context"
	"strconv"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/interpolation"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/variable"
)

func (ev *Evaluator) evalBinary(ctx context.Context, env *environment.Environment, b *ast.BinaryExpression) (*variable.Variable, error) {
	lhs, err := ev.evalNode(ctx, env, b.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ev.evalNode(ctx, env, b.RHS)
	if err != nil {
		return nil, err
	}
	desc := variable.Combine(lhs, rhs)

	switch b.Op {
	case "&&":
		return boolVar(truthy(lhs) && truthy(rhs), desc), nil
	case "||":
		return boolVar(truthy(lhs) || truthy(rhs), desc), nil
	case "==":
		return boolVar(stringify(lhs) == stringify(rhs), desc), nil
	case "!=":
		return boolVar(stringify(lhs) != stringify(rhs), desc), nil
	case "+":
		if lhs.IsPrimitive() && rhs.IsPrimitive() {
			ln, rn := numericOf(lhs), numericOf(rhs)
			return numVar(ln+rn, desc), nil
		}
		return variable.CreateSimpleText("", stringify(lhs)+stringify(rhs), variable.Source{}, variable.Options{Security: desc}), nil
	case "-", "*", "/", "%":
		ln, rn := numericOf(lhs), numericOf(rhs)
		return numVar(arith(b.Op, ln, rn), desc), nil
	case "<", "<=", ">", ">=":
		return boolVar(compare(b.Op, numericOf(lhs), numericOf(rhs)), desc), nil
	default:
		return nil, mllderr.New(mllderr.InvalidNodeType, "unsupported binary operator %q", b.Op).At(loc(b.Loc()))
	}
}

func (ev *Evaluator) evalUnary(ctx context.Context, env *environment.Environment, u *ast.UnaryExpression) (*variable.Variable, error) {
	operand, err := ev.evalNode(ctx, env, u.Operand)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case "!":
		return boolVar(!truthy(operand), operand.Security), nil
	case "-":
		return numVar(-numericOf(operand), operand.Security), nil
	default:
		return nil, mllderr.New(mllderr.InvalidNodeType, "unsupported unary operator %q", u.Op).At(loc(u.Loc()))
	}
}

func (ev *Evaluator) evalTernary(ctx context.Context, env *environment.Environment, t *ast.TernaryExpression) (*variable.Variable, error) {
	cond, err := ev.evalNode(ctx, env, t.Cond)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return ev.evalNode(ctx, env, t.Then)
	}
	return ev.evalNode(ctx, env, t.Else)
}

func (ev *Evaluator) evalCommandNode(ctx context.Context, env *environment.Environment, c *ast.Command) (*variable.Variable, error) {
	cmd, _, err := ev.interp.Interpolate(ctx, env, partsFromNodes(c.Parts), interpolation.Options{Strict: env.Options().Strict, Escaping: interpolation.EscapeShell})
	if err != nil {
		return nil, err
	}
	out, err := env.ExecuteCommand(ctx, cmd, environment.CommandOptions{})
	if err != nil {
		return nil, err
	}
	return variable.CreateSimpleText("", out, variable.Source{Directive: "run"}, variable.Options{}), nil
}

func (ev *Evaluator) evalCodeNode(ctx context.Context, env *environment.Environment, c *ast.Code) (*variable.Variable, error) {
	out, err := env.ExecuteCode(ctx, c.Source, c.Language, nil)
	if err != nil {
		return nil, err
	}
	return variable.CreateSimpleText("", out, variable.Source{Directive: "run"}, variable.Options{}), nil
}

// evalExeBlock runs an mlld statement block (let/augmented-assignment,
// optionally ending in a return) in a fresh child scope, returning the
// return expression's value or an empty text variable when absent.
func (ev *Evaluator) evalExeBlock(ctx context.Context, env *environment.Environment, b *ast.ExeBlock) (*variable.Variable, error) {
	child := env.CreateChild()
	var result *variable.Variable
	for _, stmt := range b.Statements {
		switch s := stmt.(type) {
		case *ast.LetAssignment:
			v, err := ev.evalNode(ctx, child, s.Expr)
			if err != nil {
				return nil, err
			}
			v.Name = s.Name
			child.SetVariable(s.Name, v)
		case *ast.AugmentedAssignment:
			if err := ev.applyAugmentedAssignment(ctx, child, s); err != nil {
				return nil, err
			}
		case *ast.ExeReturn:
			v, err := ev.evalNode(ctx, child, s.Expr)
			if err != nil {
				return nil, err
			}
			result = v
		default:
			if err := ev.evalTopLevel(ctx, child, stmt); err != nil {
				return nil, err
			}
		}
	}
	child.FlushIntentsTo(env)
	if result == nil {
		result = variable.CreateSimpleText("", "", variable.Source{}, variable.Options{})
	}
	return result, nil
}

func (ev *Evaluator) applyAugmentedAssignment(ctx context.Context, env *environment.Environment, a *ast.AugmentedAssignment) error {
	existing, ok := env.GetVariable(a.Name)
	if !ok {
		return mllderr.New(mllderr.VariableNotFound, "cannot augment undeclared variable %q", a.Name).At(loc(a.Loc()))
	}
	delta, err := ev.evalNode(ctx, env, a.Expr)
	if err != nil {
		return err
	}
	merged, err := mergeAugmented(existing, delta)
	if err != nil {
		return err
	}
	return env.ReassignVariable(a.Name, merged)
}

func (ev *Evaluator) evalExecInvocation(ctx context.Context, env *environment.Environment, n *ast.ExecInvocation) (*variable.Variable, error) {
	fn, ok := env.GetVariable(n.Name)
	if !ok {
		return nil, notFoundWithSuggestion(env, &ast.VariableReference{Name: n.Name})
	}
	args := make([]*variable.Variable, 0, len(n.Positional))
	for _, p := range n.Positional {
		v, err := ev.evalNode(ctx, env, p)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	named := make(map[string]*variable.Variable, len(n.Named))
	var streamOverride *bool
	for k, nv := range n.Named {
		v, err := ev.evalNode(ctx, env, nv)
		if err != nil {
			return nil, err
		}
		if k == "stream" {
			b := truthy(v)
			streamOverride = &b
			continue
		}
		named[k] = v
	}
	return ev.callExecutable(ctx, env, fn, args, named, streamOverride)
}

// callExecutable invokes an executable Variable's body in a child scope
// seeded with its parameters bound positionally, then its captured shadow
// environment installed for its body language. streamOverride is the
// per-call `with { stream: ... }` override, nil when absent.
func (ev *Evaluator) callExecutable(ctx context.Context, env *environment.Environment, fn *variable.Variable, args []*variable.Variable, named map[string]*variable.Variable, streamOverride *bool) (*variable.Variable, error) {
	if !fn.IsExecutable() {
		return nil, mllderr.New(mllderr.InvalidValueType, "%q is not callable", fn.Name).At(nil)
	}
	exe := fn.Value.(variable.Executable)

	streaming := exe.Streaming
	if streamOverride != nil {
		streaming = *streamOverride
	}
	if streaming && ev.hasAfterGuard(fn.Name) {
		if streamOverride == nil || *streamOverride {
			return nil, mllderr.New(mllderr.StreamAfterGuardConflict, "%q streams but has an after-guard; disable streaming with `with { stream: false }`", fn.Name).At(nil)
		}
	}

	child := env.CreateChild()
	child.SetShadowEnv(exe.Language, exe.Shadow)
	for i, p := range exe.Params {
		if i < len(args) {
			v := variable.Clone(args[i])
			v.Name = p
			child.SetVariable(p, v)
			continue
		}
		if v, ok := named[p]; ok {
			clone := variable.Clone(v)
			clone.Name = p
			child.SetVariable(p, clone)
		}
	}

	switch exe.Language {
	case variable.LangMlld:
		return ev.evalNode(ctx, child, exe.Body)
	case variable.LangTemplate:
		return ev.evalNode(ctx, child, exe.Body)
	default:
		params := make(map[string]*variable.Variable, len(exe.Params))
		for _, p := range exe.Params {
			if v, ok := child.GetVariable(p); ok {
				params[p] = v
			}
		}
		code, ok := exe.Body.(*ast.Code)
		if !ok {
			return nil, mllderr.New(mllderr.InvalidNodeType, "executable %q body is not a code block", fn.Name)
		}
		out, err := child.ExecuteCode(ctx, code.Source, string(exe.Language), params)
		if err != nil {
			return nil, err
		}
		return variable.CreateSimpleText("", out, variable.Source{Directive: "exe"}, variable.Options{Security: fn.Security}), nil
	}
}

// partsFromNodes adapts a Command's generic Node-typed parts into
// interpolation.Part values; Text nodes become literal parts, everything
// else an embedded expression part.
func partsFromNodes(nodes []ast.Node) []interpolation.Part {
	parts := make([]interpolation.Part, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *ast.Text:
			parts = append(parts, interpolation.Part{Kind: interpolation.PartText, Text: v.Value})
		case *ast.VariableReference:
			parts = append(parts, interpolation.Part{Kind: interpolation.PartVarRef, Ref: v})
		case *ast.FileReference:
			parts = append(parts, interpolation.Part{Kind: interpolation.PartFileRef, File: v})
		default:
			parts = append(parts, interpolation.Part{Kind: interpolation.PartExpr, Expr: n})
		}
	}
	return parts
}

// hasAfterGuard reports whether any after-guard is scoped to funcName,
// used to enforce STREAM_AFTER_GUARD_CONFLICT (§4.5 /stream).
func (ev *Evaluator) hasAfterGuard(funcName string) bool {
	for _, h := range ev.hooks.MatchingAfter("", nil, funcName, "") {
		if h.IsGuard {
			return true
		}
	}
	return false
}

func boolVar(b bool, desc security.Descriptor) *variable.Variable {
	return variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveBoolean, Bool: b}, variable.Source{}, variable.Options{Security: desc})
}

func numVar(n float64, desc security.Descriptor) *variable.Variable {
	return variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveNumber, Number: n}, variable.Source{}, variable.Options{Security: desc})
}

func truthy(v *variable.Variable) bool {
	switch v.Type {
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveBoolean:
			return p.Bool
		case variable.PrimitiveNumber:
			return p.Number != 0
		default:
			return false
		}
	case variable.KindText:
		return v.Value.(string) != ""
	default:
		return true
	}
}

func numericOf(v *variable.Variable) float64 {
	if v.Type == variable.KindPrimitive {
		p := v.Value.(variable.Primitive)
		if p.Kind == variable.PrimitiveNumber {
			return p.Number
		}
	}
	if v.Type == variable.KindText {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.Value.(string)), 64); err == nil {
			return f
		}
	}
	return 0
}

func arith(op string, a, b float64) float64 {
	switch op {
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		if b == 0 {
			return 0
		}
		return a / b
	case "%":
		if b == 0 {
			return 0
		}
		return float64(int64(a) % int64(b))
	default:
		return 0
	}
}

func compare(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	default:
		return false
	}
}
