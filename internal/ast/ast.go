// Package ast defines the node shapes the evaluator consumes from the
// external grammar/parser. The grammar itself is a collaborator outside
// this repository's scope; this package only models the contract.
package ast

// Position is a single point in source text.
type Position struct {
	Line   int
	Column int
	Offset int
}

// Location spans two positions, optionally naming the source file.
type Location struct {
	Start    Position
	End      Position
	FilePath string
}

// Kind discriminates AST node types. Non-exhaustive per §6.1; the evaluator
// only branches on the kinds it knows how to interpret and otherwise fails
// with INVALID_NODE_TYPE.
type Kind string

const (
	KindDocument                  Kind = "Document"
	KindDirective                 Kind = "Directive"
	KindText                      Kind = "Text"
	KindNewline                   Kind = "Newline"
	KindComment                   Kind = "Comment"
	KindFrontmatter               Kind = "Frontmatter"
	KindCodeFence                 Kind = "CodeFence"
	KindMlldRunBlock              Kind = "MlldRunBlock"
	KindVariableReference         Kind = "VariableReference"
	KindVariableReferenceWithTail Kind = "VariableReferenceWithTail"
	KindExecInvocation            Kind = "ExecInvocation"
	KindLiteral                   Kind = "Literal"
	KindBinaryExpression          Kind = "BinaryExpression"
	KindUnaryExpression           Kind = "UnaryExpression"
	KindTernaryExpression         Kind = "TernaryExpression"
	KindNewExpression             Kind = "NewExpression"
	KindWhenExpression            Kind = "WhenExpression"
	KindForExpression             Kind = "ForExpression"
	KindLoopExpression            Kind = "LoopExpression"
	KindFileReference             Kind = "FileReference"
	KindLoadContent               Kind = "load-content"
	KindExeBlock                  Kind = "ExeBlock"
	KindLetAssignment             Kind = "LetAssignment"
	KindAugmentedAssignment       Kind = "AugmentedAssignment"
	KindExeReturn                 Kind = "ExeReturn"
	KindLabelModification         Kind = "LabelModification"
	KindArray                     Kind = "array"
	KindObject                    Kind = "object"
	KindCommand                   Kind = "command"
	KindCode                      Kind = "code"
)

// DirectiveKind discriminates the `/…` directives handled by the evaluator.
type DirectiveKind string

const (
	DirectiveVar    DirectiveKind = "var"
	DirectiveShow   DirectiveKind = "show"
	DirectiveRun    DirectiveKind = "run"
	DirectiveExe    DirectiveKind = "exe"
	DirectiveImport DirectiveKind = "import"
	DirectiveOutput DirectiveKind = "output"
	DirectiveAppend DirectiveKind = "append"
	DirectiveWhen   DirectiveKind = "when"
	DirectiveFor    DirectiveKind = "for"
	DirectiveLoop   DirectiveKind = "loop"
	DirectiveHook   DirectiveKind = "hook"
	DirectiveGuard  DirectiveKind = "guard"
	DirectiveStream DirectiveKind = "stream"
	DirectivePath   DirectiveKind = "path"
)

// Node is the minimal contract every consumed AST node satisfies.
type Node interface {
	NodeKind() Kind
	Loc() Location
}

// base embeds the common Location accessor.
type base struct {
	Location Location
}

func (b base) Loc() Location { return b.Location }

// Document is the root node: an ordered sequence of top-level nodes.
type Document struct {
	base
	Children []Node
}

func (d *Document) NodeKind() Kind { return KindDocument }

// Directive is a `/…` directive with a subtype discriminator and
// directive-specific fields carried in Fields (kept loosely typed since the
// grammar's exact per-directive payload shape is external).
type Directive struct {
	base
	Subtype DirectiveKind
	Fields  map[string]interface{}
}

func (d *Directive) NodeKind() Kind { return KindDirective }

// Text is literal prose emitted verbatim.
type Text struct {
	base
	Value string
}

func (t *Text) NodeKind() Kind { return KindText }

// Newline is a literal newline in prose (subject to break-collapsing, §4.10).
type Newline struct{ base }

func (n *Newline) NodeKind() Kind { return KindNewline }

// Comment is a non-emitting node.
type Comment struct {
	base
	Value string
}

func (c *Comment) NodeKind() Kind { return KindComment }

// Frontmatter carries parsed document metadata (not emitted).
type Frontmatter struct {
	base
	Fields map[string]interface{}
}

func (f *Frontmatter) NodeKind() Kind { return KindFrontmatter }

// CodeFence is a fenced code block appearing in prose (emitted verbatim,
// distinct from an executable code directive body).
type CodeFence struct {
	base
	Language string
	Value    string
}

func (c *CodeFence) NodeKind() Kind { return KindCodeFence }

// MlldRunBlock is a top-level bare `run {...}` block.
type MlldRunBlock struct {
	base
	Command string
}

func (m *MlldRunBlock) NodeKind() Kind { return KindMlldRunBlock }

// FieldAccessor is one step in a dotted/bracketed field-access chain.
type FieldAccessor struct {
	// Exactly one of Name, Index, or NameNode is set.
	Name     string
	HasIndex bool
	Index    int
	NameNode Node // dynamic field name: itself a variable reference
}

// VariableReference is `@name` with optional field access tail.
type VariableReference struct {
	base
	Name   string
	Fields []FieldAccessor
}

func (v *VariableReference) NodeKind() Kind { return KindVariableReference }

// VariableReferenceWithTail adds a pipeline/call tail to a reference.
type VariableReferenceWithTail struct {
	base
	Ref  *VariableReference
	Tail []Node
}

func (v *VariableReferenceWithTail) NodeKind() Kind { return KindVariableReferenceWithTail }

// ExecInvocation is a call `@fn(args)`.
type ExecInvocation struct {
	base
	Name       string
	Positional []Node
	Named      map[string]Node
}

func (e *ExecInvocation) NodeKind() Kind { return KindExecInvocation }

// Literal is a parsed scalar literal.
type Literal struct {
	base
	Value interface{} // string, float64, bool, nil
}

func (l *Literal) NodeKind() Kind { return KindLiteral }

// BinaryExpression is `lhs op rhs`.
type BinaryExpression struct {
	base
	Op  string
	LHS Node
	RHS Node
}

func (b *BinaryExpression) NodeKind() Kind { return KindBinaryExpression }

// UnaryExpression is `op operand`.
type UnaryExpression struct {
	base
	Op      string
	Operand Node
}

func (u *UnaryExpression) NodeKind() Kind { return KindUnaryExpression }

// TernaryExpression is `cond ? a : b`.
type TernaryExpression struct {
	base
	Cond Node
	Then Node
	Else Node
}

func (t *TernaryExpression) NodeKind() Kind { return KindTernaryExpression }

// NewExpression constructs a structured value from an array/object literal.
type NewExpression struct {
	base
	Value Node
}

func (n *NewExpression) NodeKind() Kind { return KindNewExpression }

// WhenPattern is one `condition => action` pair; Cond == nil for `*`.
type WhenPattern struct {
	Cond   Node
	Action Node
}

// WhenExpression models both `when @cond => action` and the array forms.
type WhenExpression struct {
	base
	First    bool
	Patterns []WhenPattern
}

func (w *WhenExpression) NodeKind() Kind { return KindWhenExpression }

// ForExpression models `for (@k,@v) in @coll => body`, with optional batch
// parallelism.
type ForExpression struct {
	base
	KeyVar   string // "" when absent
	ValueVar string
	Coll     Node
	Body     Node
	Parallel int // 0 or 1 = sequential
}

func (f *ForExpression) NodeKind() Kind { return KindForExpression }

// LoopExpression models `/loop(limit?, pacing?) until cond [ body ]`.
type LoopExpression struct {
	base
	Limit  int  // <=0 means endless
	Pacing int64 // nanoseconds, 0 = none
	Until  Node
	Body   Node
}

func (l *LoopExpression) NodeKind() Kind { return KindLoopExpression }

// FileReference is `<path>` with an optional section heading match.
type FileReference struct {
	base
	Path    Node
	Section string
}

func (f *FileReference) NodeKind() Kind { return KindFileReference }

// LoadContent is a resolved file-reference payload carried through
// evaluation (produced internally, also accepted as an intake kind per
// §6.1 for pre-resolved content).
type LoadContent struct {
	base
	Content string
	Section string
}

func (l *LoadContent) NodeKind() Kind { return KindLoadContent }

// ExeBlock is an mlld statement block: a sequence of LetAssignment /
// AugmentedAssignment / other statements, optionally ending in ExeReturn.
type ExeBlock struct {
	base
	Statements []Node
}

func (e *ExeBlock) NodeKind() Kind { return KindExeBlock }

// LetAssignment is `let @n = expr` inside an ExeBlock.
type LetAssignment struct {
	base
	Name string
	Expr Node
}

func (l *LetAssignment) NodeKind() Kind { return KindLetAssignment }

// AugmentedAssignment is `@n += expr`.
type AugmentedAssignment struct {
	base
	Name string
	Expr Node
}

func (a *AugmentedAssignment) NodeKind() Kind { return KindAugmentedAssignment }

// ExeReturn is `=> return expr` ending an ExeBlock.
type ExeReturn struct {
	base
	Expr Node
}

func (e *ExeReturn) NodeKind() Kind { return KindExeReturn }

// LabelModification attaches/removes security labels, e.g. a directive
// prefix `@secret /exe ...`.
type LabelModification struct {
	base
	Labels []string
}

func (l *LabelModification) NodeKind() Kind { return KindLabelModification }

// Array is an array literal, elements possibly unevaluated subtrees.
type Array struct {
	base
	Elements []Node
}

func (a *Array) NodeKind() Kind { return KindArray }

// Object is an object literal with ordered keys (insertion order preserved
// for export enumeration parity with Environment's variable table).
type Object struct {
	base
	Keys   []string
	Values map[string]Node
}

func (o *Object) NodeKind() Kind { return KindObject }

// Command is a shell command body (string parts + interpolation parts,
// modeled generically as Node for the interpolation engine to walk).
type Command struct {
	base
	Parts []Node
}

func (c *Command) NodeKind() Kind { return KindCommand }

// Code is a language-tagged code block body.
type Code struct {
	base
	Language string
	Source   string
}

func (c *Code) NodeKind() Kind { return KindCode }
