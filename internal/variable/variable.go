// Package variable implements the discriminated Variable model (C1): a
// sealed set of variant records identified by a Kind tag, each carrying a
// kind-specific payload plus shared user-visible (MX) and implementation
// (Internal) metadata and a security descriptor. Handlers branch on Kind;
// metadata lives in sidecar records rather than monkey-patched fields, per
// the re-architecture guidance for discriminated variables.
package variable

import (
	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/invariant"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/security"
	"github.com/mlld-lang/mlld/internal/structured"
)

// Kind discriminates the Variable variant.
type Kind string

const (
	KindText           Kind = "text"
	KindPrimitive      Kind = "primitive"
	KindStructured     Kind = "structured"
	KindPath           Kind = "path"
	KindExecutable     Kind = "executable"
	KindPipelineInput  Kind = "pipeline-input"
	KindImported       Kind = "imported"
	KindComputed       Kind = "computed"
	KindToolCollection Kind = "tool-collection"
)

// PrimitiveKind discriminates the primitive payload.
type PrimitiveKind string

const (
	PrimitiveNumber  PrimitiveKind = "number"
	PrimitiveBoolean PrimitiveKind = "boolean"
	PrimitiveNull    PrimitiveKind = "null"
)

// Language identifies an executable's body language / shadow-env namespace.
type Language string

const (
	LangMlld     Language = "mlld"
	LangJS       Language = "js"
	LangPython   Language = "python"
	LangBash     Language = "bash"
	LangTemplate Language = "template"
)

// Primitive is the payload for KindPrimitive.
type Primitive struct {
	Kind   PrimitiveKind
	Number float64
	Bool   bool
}

// PathValue is the payload for KindPath.
type PathValue struct {
	ResolvedPath string
	IsAbsolute   bool
	IsSecure     bool
	Base         string
	Segments     []string
}

// ShadowEnv is a snapshot of callables available to a language's embedded
// code at the moment an executable was defined (captured at exe-definition
// time; see environment.CaptureShadowEnvironment). Keyed by callable name.
type ShadowEnv map[string]*Variable

// Executable is the payload for KindExecutable.
type Executable struct {
	Params   []string
	Body     ast.Node
	Language Language
	// Shadow holds the lexically-captured shadow environment for Language,
	// snapshotted at definition time per the re-architecture guidance.
	Shadow ShadowEnv
	Labels []string
	// Streaming marks this executable as emitting NDJSON chunks as
	// intents during its call rather than buffering the full output.
	Streaming bool
}

// ToolEntry is one normalized entry of a `/var tools` collection (§4.5.1).
type ToolEntry struct {
	Fn     *Variable // the underlying executable
	Bind   map[string]string
	Expose []string
}

// ToolCollection is the payload for KindToolCollection.
type ToolCollection struct {
	Entries map[string]ToolEntry
	Order   []string // insertion order, for export enumeration
}

// ForInfo is the per-iteration context surfaced as @mx.for.
type ForInfo struct {
	Index      int
	Total      int
	BatchIndex int
	BatchSize  int
}

// LoopInfo is the per-iteration context surfaced as @mx.loop.
type LoopInfo struct {
	Iteration int
	Limit     int
	Active    bool
}

// HookError is one captured hook-body failure (§4.8).
type HookError struct {
	HookName string
	Message  string
}

// MX is the user-visible metadata sidecar.
type MX struct {
	Labels      []string
	Taint       []security.TaintKind
	Key         *string
	For         *ForInfo
	Loop        *LoopInfo
	HooksErrors []HookError
}

// Internal is the implementation metadata sidecar; never exposed to user
// code.
type Internal struct {
	SourceNode          ast.Node
	SourceFunction      string
	TransformerVariants []string
	IsRetryable         bool
	IsPipelineResult    bool
	IsToolsCollection   bool
	Security            security.Descriptor
}

// Source records provenance of the value's textual/syntactic origin.
type Source struct {
	Directive    string
	Syntax       string
	MultiLine    bool
	Interpolated bool
}

// Variable is a tagged value with metadata (§3.1).
type Variable struct {
	Name     string
	Type     Kind
	Subtype  string
	Value    interface{}
	MX       MX
	Internal Internal
	Source   Source
	Security security.Descriptor
}

// Options configures a factory call; fields are overlaid onto computed
// defaults by applySecurityOptions-equivalent merge logic.
type Options struct {
	Subtype  string
	MX       MX
	Internal Internal
	Security security.Descriptor
	Source   Source
}

func mergeOptions(v *Variable, opts Options) {
	v.Subtype = opts.Subtype
	v.MX = opts.MX
	v.Internal = opts.Internal
	v.Source = opts.Source
	v.Security = opts.Security
	// Internal.Security and top-level Security must agree; keep them in
	// sync so either accessor observes the same descriptor.
	v.Internal.Security = security.Merge(v.Internal.Security, v.Security)
	v.Security = v.Internal.Security
}

// CreateSimpleText builds a text-like Variable.
func CreateSimpleText(name, value string, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindText, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	return v
}

// CreatePrimitive builds a primitive Variable (number/boolean/null).
func CreatePrimitive(name string, value Primitive, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindPrimitive, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	return v
}

// CreateStructured builds a structured (object/array) Variable.
func CreateStructured(name string, value structured.Value, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindStructured, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	return v
}

// CreatePath builds a path Variable.
func CreatePath(name string, value PathValue, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindPath, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	return v
}

// CreateExecutable builds an executable Variable. The shadow environment
// must already be the caller's lexical snapshot (captured before this call).
func CreateExecutable(name string, value Executable, source Source, opts Options) *Variable {
	invariant.NotNil(value.Body, "Executable.Body")
	v := &Variable{Name: name, Type: KindExecutable, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	for _, l := range value.Labels {
		v.Security = v.Security.WithLabel(l)
	}
	v.Internal.Security = v.Security
	return v
}

// CreatePipelineInput builds a pipeline-input Variable from a structured
// value produced inside a pipeline stage.
func CreatePipelineInput(name string, value structured.Value, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindPipelineInput, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	v.Internal.IsPipelineResult = true
	return v
}

// CreateToolCollection builds a tool-collection Variable. Per §4.5.1 the
// collection's own metadata is independent of its entries' labels: passing
// it as a parameter does not taint the containing value with each entry's
// labels, so no per-entry security is merged in here.
func CreateToolCollection(name string, value ToolCollection, source Source, opts Options) *Variable {
	v := &Variable{Name: name, Type: KindToolCollection, Value: value}
	mergeOptions(v, opts)
	v.Source = source
	v.Internal.IsToolsCollection = true
	return v
}

// Discriminators.
func (v *Variable) IsText() bool           { return v.Type == KindText }
func (v *Variable) IsPrimitive() bool      { return v.Type == KindPrimitive }
func (v *Variable) IsStructured() bool     { return v.Type == KindStructured }
func (v *Variable) IsPath() bool           { return v.Type == KindPath }
func (v *Variable) IsExecutable() bool     { return v.Type == KindExecutable }
func (v *Variable) IsPipelineInput() bool  { return v.Type == KindPipelineInput }
func (v *Variable) IsToolCollection() bool { return v.Type == KindToolCollection }

// AssertStructured performs a defensive read, failing with INVALID_VALUE_TYPE
// if v is not a structured (or pipeline-input, which also carries a
// structured.Value payload) Variable.
func AssertStructured(v *Variable) (structured.Value, error) {
	switch v.Type {
	case KindStructured, KindPipelineInput:
		return v.Value.(structured.Value), nil
	default:
		return structured.Value{}, mllderr.New(mllderr.InvalidValueType,
			"expected structured value, got %s variable %q", v.Type, v.Name)
	}
}

// ExtractOptions configures ExtractSecurityDescriptor.
type ExtractOptions struct {
	Recursive          bool
	MergeArrayElements bool
}

// ExtractSecurityDescriptor returns v's descriptor, optionally folding in
// descriptors recursively discovered in structured element Variables
// (mergeArrayElements only applies when the structured payload's elements
// are themselves Variables, e.g. unevaluated subtrees retained by complex
// structured values).
func ExtractSecurityDescriptor(v *Variable, opts ExtractOptions) security.Descriptor {
	d := v.Security
	if !opts.Recursive {
		return d
	}
	if sv, ok := v.Value.(structured.Value); ok && opts.MergeArrayElements {
		if arr, ok := sv.AsArray(); ok {
			for _, el := range arr {
				if nested, ok := el.(*Variable); ok {
					d = security.Merge(d, ExtractSecurityDescriptor(nested, opts))
				}
			}
		}
	}
	return d
}

// ApplySecurityOptions deep-merges overrides onto an existing descriptor-
// bearing Options bag, used by factories that layer caller-supplied
// metadata over computed defaults.
func ApplySecurityOptions(overrides *Options, existing Options) Options {
	if overrides == nil {
		return existing
	}
	merged := existing
	if overrides.Subtype != "" {
		merged.Subtype = overrides.Subtype
	}
	merged.MX.Labels = append(append([]string{}, existing.MX.Labels...), overrides.MX.Labels...)
	merged.MX.Taint = append(append([]security.TaintKind{}, existing.MX.Taint...), overrides.MX.Taint...)
	if overrides.MX.Key != nil {
		merged.MX.Key = overrides.MX.Key
	}
	if overrides.MX.For != nil {
		merged.MX.For = overrides.MX.For
	}
	if overrides.MX.Loop != nil {
		merged.MX.Loop = overrides.MX.Loop
	}
	merged.MX.HooksErrors = append(append([]HookError{}, existing.MX.HooksErrors...), overrides.MX.HooksErrors...)
	merged.Internal = existing.Internal
	if overrides.Internal.SourceFunction != "" {
		merged.Internal.SourceFunction = overrides.Internal.SourceFunction
	}
	merged.Internal.IsRetryable = existing.Internal.IsRetryable || overrides.Internal.IsRetryable
	merged.Internal.IsPipelineResult = existing.Internal.IsPipelineResult || overrides.Internal.IsPipelineResult
	merged.Internal.IsToolsCollection = existing.Internal.IsToolsCollection || overrides.Internal.IsToolsCollection
	merged.Security = security.Merge(existing.Security, overrides.Security)
	merged.Source = existing.Source
	if overrides.Source.Directive != "" {
		merged.Source = overrides.Source
	}
	return merged
}

// Clone copies v, preserving metadata by value (the MX and security slices
// are copied below). Tool collections get a new entry map and executables a
// new shadow map; every other payload, including a structured.Value, is
// copied as-is, so its underlying maps and slices are shared with v.
func Clone(v *Variable) *Variable {
	c := *v
	c.MX.Labels = append([]string{}, v.MX.Labels...)
	c.MX.Taint = append([]security.TaintKind{}, v.MX.Taint...)
	c.MX.HooksErrors = append([]HookError{}, v.MX.HooksErrors...)
	c.Security.Labels = append([]string{}, v.Security.Labels...)
	c.Security.Sources = append([]string{}, v.Security.Sources...)
	c.Security.Taint = append([]security.TaintKind{}, v.Security.Taint...)

	switch val := v.Value.(type) {
	case ToolCollection:
		entries := make(map[string]ToolEntry, len(val.Entries))
		for k, e := range val.Entries {
			entries[k] = e
		}
		c.Value = ToolCollection{Entries: entries, Order: append([]string{}, val.Order...)}
	case Executable:
		shadow := make(ShadowEnv, len(val.Shadow))
		for k, fn := range val.Shadow {
			shadow[k] = fn
		}
		val.Shadow = shadow
		c.Value = val
	}
	return &c
}

// RequireLabel fails with SECURITY_LABEL_REQUIRED when v's descriptor does
// not carry the demanded label.
func RequireLabel(v *Variable, label string) error {
	if !v.Security.HasLabel(label) {
		return mllderr.New(mllderr.SecurityLabelRequired, "variable %q missing required label %q", v.Name, label)
	}
	return nil
}

// Combine merges two variables' descriptors per the monotonicity invariant
// and returns the merged descriptor for the caller to attach to a new
// composite Variable.
func Combine(a, b *Variable) security.Descriptor {
	return security.Merge(a.Security, b.Security)
}
