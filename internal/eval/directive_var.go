package eval

import (
	"context"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// ToolEntrySpec is one entry of a `/var tools` literal, as desugared by the
// grammar into a typed sub-structure (§4.5.1) rather than a raw field bag,
// since its shape is fixed regardless of directive payload looseness
// elsewhere.
type ToolEntrySpec struct {
	Fn     *ast.VariableReference
	Labels []string
	Expose []string
	Bind   map[string]string
}

func (ev *Evaluator) evalVar(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	name, _ := d.Fields["name"].(string)
	if name == "" {
		return mllderr.New(mllderr.InvalidDirective, "/var requires a variable name").At(loc(d.Loc()))
	}

	if entries, ok := d.Fields["toolsEntries"].(map[string]ToolEntrySpec); ok {
		return ev.evalVarTools(ctx, env, d, name, entries)
	}

	expr, _ := d.Fields["expr"].(ast.Node)
	if expr == nil {
		return mllderr.New(mllderr.InvalidDirective, "/var @%s has no expression", name).At(loc(d.Loc()))
	}

	v, err := ev.evalNode(ctx, env, expr)
	if err != nil {
		return err
	}
	v.Name = name

	if augmented, _ := d.Fields["augmented"].(bool); augmented {
		existing, ok := env.GetVariable(name)
		if !ok {
			return mllderr.New(mllderr.VariableNotFound, "cannot augment undeclared variable %q", name).At(loc(d.Loc()))
		}
		merged, err := mergeAugmented(existing, v)
		if err != nil {
			return err
		}
		return env.ReassignVariable(name, merged)
	}

	env.SetVariable(name, v)
	return nil
}

// mergeAugmented implements `/var @n += expr` (§4.5): arrays concat,
// strings concat, objects shallow-merge, otherwise ASSIGN_MISMATCH.
func mergeAugmented(existing, delta *variable.Variable) (*variable.Variable, error) {
	desc := variable.Combine(existing, delta)

	if existing.IsText() && delta.IsText() {
		merged := existing.Value.(string) + delta.Value.(string)
		return variable.CreateSimpleText(existing.Name, merged, existing.Source, variable.Options{Security: desc}), nil
	}

	esv, eok := existing.Value.(structured.Value)
	dsv, dok := delta.Value.(structured.Value)
	if eok && dok {
		if earr, ok := esv.AsArray(); ok {
			darr, ok := dsv.AsArray()
			if !ok {
				return nil, mllderr.New(mllderr.AssignMismatch, "cannot append non-array to array variable %q", existing.Name)
			}
			merged := append(append([]interface{}{}, earr...), darr...)
			return variable.CreateStructured(existing.Name, structured.FromArray(merged), existing.Source, variable.Options{Security: desc}), nil
		}
		if eobj, ok := esv.AsObject(); ok {
			dobj, ok := dsv.AsObject()
			if !ok {
				return nil, mllderr.New(mllderr.AssignMismatch, "cannot merge non-object into object variable %q", existing.Name)
			}
			merged := make(map[string]interface{}, len(eobj)+len(dobj))
			for k, v := range eobj {
				merged[k] = v
			}
			for k, v := range dobj {
				merged[k] = v
			}
			return variable.CreateStructured(existing.Name, structured.FromObject(merged), existing.Source, variable.Options{Security: desc}), nil
		}
	}

	return nil, mllderr.New(mllderr.AssignMismatch, "cannot apply += to variable %q of incompatible types", existing.Name)
}

// evalVarTools builds and validates a tool collection (§4.5.1). Per the
// normalization contract, building a collection never invokes the
// referenced functions, so guards attached to them are not triggered here.
func (ev *Evaluator) evalVarTools(ctx context.Context, env *environment.Environment, d *ast.Directive, name string, specs map[string]ToolEntrySpec) error {
	entries := make(map[string]variable.ToolEntry, len(specs))
	order := make([]string, 0, len(specs))

	for key, spec := range specs {
		fn, ok := env.GetVariable(spec.Fn.Name)
		if !ok {
			return notFoundWithSuggestion(env, spec.Fn)
		}
		if !fn.IsExecutable() {
			return mllderr.New(mllderr.InvalidValueType, "tools entry %q: %q is not callable", key, spec.Fn.Name).At(loc(d.Loc()))
		}
		if err := validateToolEntry(key, fn, spec); err != nil {
			return err
		}
		entries[key] = variable.ToolEntry{Fn: fn, Bind: spec.Bind, Expose: spec.Expose}
		order = append(order, key)
	}

	v := variable.CreateToolCollection(name, variable.ToolCollection{Entries: entries, Order: order}, variable.Source{Directive: "var"}, variable.Options{})
	env.SetVariable(name, v)
	return nil
}

func validateToolEntry(key string, fn *variable.Variable, spec ToolEntrySpec) error {
	exe := fn.Value.(variable.Executable)
	params := make(map[string]bool, len(exe.Params))
	for _, p := range exe.Params {
		params[p] = true
	}

	for bindKey := range spec.Bind {
		if !params[bindKey] {
			return mllderr.New(mllderr.ExposeMissingRequired, "tools entry %q: bind key %q is not a parameter of %q", key, bindKey, spec.Fn.Name)
		}
	}

	exposed := make(map[string]bool, len(spec.Expose))
	for _, e := range spec.Expose {
		if !params[e] {
			return mllderr.New(mllderr.ExposeMissingRequired, "tools entry %q: expose value %q is not a parameter of %q", key, e, spec.Fn.Name)
		}
		if _, bound := spec.Bind[e]; bound {
			return mllderr.New(mllderr.ExposeMissingRequired, "tools entry %q: %q is both bound and exposed", key, e)
		}
		exposed[e] = true
	}

	for _, p := range exe.Params {
		if _, bound := spec.Bind[p]; bound {
			continue
		}
		if exposed[p] {
			continue
		}
		return mllderr.New(mllderr.ExposeMissingRequired, "tools entry %q: required parameter %q of %q is neither bound nor exposed", key, p, spec.Fn.Name)
	}

	return nil
}
