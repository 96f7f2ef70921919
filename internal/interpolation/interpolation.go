// Package interpolation implements the interpolation engine (C4): resolving
// an ordered list of parts (text/variable-reference/file-reference/
// expression) into a string while threading security descriptors, and
// field-access chains over structured values.
package interpolation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// PartKind discriminates an interpolation part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartVarRef   PartKind = "variable-reference"
	PartFileRef  PartKind = "file-reference"
	PartExpr     PartKind = "expression"
)

// Part is one segment of an interpolated template/command/path.
type Part struct {
	Kind PartKind
	Text string // PartText
	Ref  *ast.VariableReference
	File *ast.FileReference
	Expr ast.Node
}

// Escaping selects the string-safety transform applied to resolved values.
type Escaping int

const (
	EscapeNone Escaping = iota
	EscapeShell
	EscapeQuoted
)

// Options configures one Interpolate call.
type Options struct {
	Strict   bool
	Escaping Escaping
}

// ExprEvaluator evaluates an arbitrary expression node to a Variable; wired
// to the directive evaluator (C5) by the caller to avoid a package cycle
// between interpolation and eval.
type ExprEvaluator func(ctx context.Context, env *environment.Environment, node ast.Node) (*variable.Variable, error)

// FileLoader loads a file reference's content (optionally a section) via the
// resolver framework (C9); wired in by the caller for the same reason.
type FileLoader func(ctx context.Context, env *environment.Environment, ref *ast.FileReference) (*variable.Variable, error)

// Engine resolves interpolation parts into text.
type Engine struct {
	EvalExpr ExprEvaluator
	LoadFile FileLoader
}

// New builds an Engine with the given collaborators.
func New(evalExpr ExprEvaluator, loadFile FileLoader) *Engine {
	return &Engine{EvalExpr: evalExpr, LoadFile: loadFile}
}

// Interpolate resolves parts into a string, returning the merged security
// descriptor collected across every resolved part. On completion the
// descriptor is also recorded into env's ledger.
func (e *Engine) Interpolate(ctx context.Context, env *environment.Environment, parts []Part, opts Options) (string, security.Descriptor, error) {
	var b strings.Builder
	merged := security.Empty()

	for _, p := range parts {
		switch p.Kind {
		case PartText:
			b.WriteString(p.Text)
		case PartVarRef:
			v, err := e.resolveVarRef(ctx, env, p.Ref, opts)
			if err != nil {
				if !opts.Strict {
					continue // non-strict recovers to empty string
				}
				return "", merged, err
			}
			merged = security.Merge(merged, v.Security)
			b.WriteString(escape(stringify(v), opts.Escaping))
		case PartFileRef:
			invariantNotNilLoader(e.LoadFile)
			v, err := e.LoadFile(ctx, env, p.File)
			if err != nil {
				if !opts.Strict {
					continue
				}
				return "", merged, err
			}
			merged = security.Merge(merged, v.Security)
			b.WriteString(escape(stringify(v), opts.Escaping))
		case PartExpr:
			invariantNotNilEval(e.EvalExpr)
			v, err := e.EvalExpr(ctx, env, p.Expr)
			if err != nil {
				if !opts.Strict {
					continue
				}
				return "", merged, err
			}
			merged = security.Merge(merged, v.Security)
			b.WriteString(escape(stringify(v), opts.Escaping))
		}
	}

	env.RecordSecurityDescriptor(merged)
	return b.String(), merged, nil
}

func invariantNotNilLoader(f FileLoader) {
	if f == nil {
		panic("interpolation: FileLoader not wired but a file-reference part was encountered")
	}
}

func invariantNotNilEval(f ExprEvaluator) {
	if f == nil {
		panic("interpolation: ExprEvaluator not wired but an expression part was encountered")
	}
}

func (e *Engine) resolveVarRef(ctx context.Context, env *environment.Environment, ref *ast.VariableReference, opts Options) (*variable.Variable, error) {
	base, ok := env.GetVariable(ref.Name)
	if !ok {
		return nil, mllderr.New(mllderr.VariableNotFound, "variable not found: @%s", ref.Name).At(loc(ref.Loc()))
	}
	return ResolveFieldChain(ctx, env, base, ref.Fields, e.EvalExpr)
}

// ResolveFieldChain walks a dotted/bracketed field-access chain starting
// from base, resolving dynamic field names (themselves variable references
// or expressions) before indexing, and treating numeric-looking dynamic
// results as indices.
func ResolveFieldChain(ctx context.Context, env *environment.Environment, base *variable.Variable, accessors []ast.FieldAccessor, evalExpr ExprEvaluator) (*variable.Variable, error) {
	current := base
	for _, acc := range accessors {
		name := acc.Name
		hasIndex := acc.HasIndex
		index := acc.Index

		if acc.NameNode != nil {
			if evalExpr == nil {
				return nil, mllderr.New(mllderr.InvalidNodeType, "dynamic field access requires an expression evaluator")
			}
			dyn, err := evalExpr(ctx, env, acc.NameNode)
			if err != nil {
				return nil, err
			}
			dynStr := stringify(dyn)
			if n, err := strconv.Atoi(dynStr); err == nil {
				hasIndex = true
				index = n
				name = ""
			} else {
				name = dynStr
				hasIndex = false
			}
		}

		sv, err := variable.AssertStructured(current)
		if err != nil {
			return nil, mllderr.New(mllderr.FieldNotFound, "cannot access field on non-structured value %q", current.Name)
		}

		if hasIndex {
			arr, ok := sv.AsArray()
			if !ok {
				return nil, mllderr.New(mllderr.FieldNotFound, "index access on non-array value")
			}
			if index < 0 || index >= len(arr) {
				return nil, mllderr.New(mllderr.FieldOutOfBounds, "index %d out of bounds (length %d)", index, len(arr))
			}
			current = toVariable(fmt.Sprintf("[%d]", index), arr[index])
			continue
		}

		obj, ok := sv.AsObject()
		if !ok {
			return nil, mllderr.New(mllderr.FieldNotFound, "field %q access on non-object value", name)
		}
		raw, ok := obj[name]
		if !ok {
			return nil, mllderr.New(mllderr.FieldNotFound, "field %q not found", name)
		}
		current = toVariable(name, raw)
	}
	return current, nil
}

// toVariable wraps a raw decoded JSON value (from a structured payload) as
// a Variable so field-access chains and stringify() can treat intermediate
// results uniformly.
func toVariable(name string, raw interface{}) *variable.Variable {
	switch t := raw.(type) {
	case string:
		return variable.CreateSimpleText(name, t, variable.Source{}, variable.Options{})
	case float64:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveNumber, Number: t}, variable.Source{}, variable.Options{})
	case bool:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveBoolean, Bool: t}, variable.Source{}, variable.Options{})
	case nil:
		return variable.CreatePrimitive(name, variable.Primitive{Kind: variable.PrimitiveNull}, variable.Source{}, variable.Options{})
	case map[string]interface{}:
		return variable.CreateStructured(name, structured.FromObject(t), variable.Source{}, variable.Options{})
	case []interface{}:
		return variable.CreateStructured(name, structured.FromArray(t), variable.Source{}, variable.Options{})
	default:
		return variable.CreateSimpleText(name, fmt.Sprintf("%v", t), variable.Source{}, variable.Options{})
	}
}

// stringify coerces any Variable kind to its textual projection.
func stringify(v *variable.Variable) string {
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveNumber:
			return strconv.FormatFloat(p.Number, 'g', -1, 64)
		case variable.PrimitiveBoolean:
			return strconv.FormatBool(p.Bool)
		default:
			return "null"
		}
	case variable.KindStructured, variable.KindPipelineInput:
		sv := v.Value.(structured.Value)
		return sv.AsText()
	case variable.KindPath:
		return v.Value.(variable.PathValue).ResolvedPath
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

func escape(s string, mode Escaping) string {
	switch mode {
	case EscapeShell:
		return shellEscape(s)
	case EscapeQuoted:
		return strconv.Quote(s)
	default:
		return s
	}
}

// shellEscape makes s safe to splice into a POSIX shell command line: the
// empty string becomes '', a string made only of letters, digits and
// _ - . / is returned unchanged, and anything else is wrapped in single
// quotes with embedded single quotes written as the '\'' sequence.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r == '_' || r == '-' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func loc(l ast.Location) *mllderr.Location {
	return &mllderr.Location{Line: l.Start.Line, Column: l.Start.Column, FilePath: l.FilePath}
}
