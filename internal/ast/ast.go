// Package ast defines the AST node types the evaluator consumes. There is
// no parser here — the PEG grammar and parser are an external
// collaborator; this package only describes the shape an already-built
// AST must have.
package ast

// Location mirrors a parsed node's source span.
type Location struct {
	Start, End Position
	Source     string
}

// Position is a line/column pair.
type Position struct {
	Line, Col int
}

// NodeKind distinguishes top-level document nodes and every RHS subtree
// shape a directive's `values` may hold.
type NodeKind string

const (
	NodeText        NodeKind = "Text"
	NodeCodeFence   NodeKind = "CodeFence"
	NodeComment     NodeKind = "Comment"
	NodeDirective   NodeKind = "Directive"
	NodeVariableRef NodeKind = "VariableReference"
	NodeLiteral     NodeKind = "Literal"

	NodeArray          NodeKind = "Array"
	NodeObject         NodeKind = "Object"
	NodePath           NodeKind = "Path"
	NodeSection        NodeKind = "Section"
	NodeLoadContent    NodeKind = "LoadContent"
	NodeCommand        NodeKind = "Command"
	NodeCode           NodeKind = "Code"
	NodeExecInvocation NodeKind = "ExecInvocation"
	NodeExeBlock       NodeKind = "ExeBlock"
	NodeBinary         NodeKind = "BinaryExpression"
	NodeTernary        NodeKind = "TernaryExpression"
	NodeUnary          NodeKind = "UnaryExpression"
	NodeWhen           NodeKind = "WhenExpression"
	NodeFor            NodeKind = "ForExpression"
	NodeLoop           NodeKind = "LoopExpression"
	NodeRefWithTail    NodeKind = "VariableReferenceWithTail"
	NodeTemplate       NodeKind = "Template"
)

// Node is any top-level document node or directive RHS subtree. Exactly
// one of the typed fields is populated, selected by Kind.
type Node struct {
	Kind      NodeKind
	Text      string             // for NodeText / NodeCodeFence / NodeComment
	Language  string             // for NodeCodeFence
	Literal   *Literal           // for NodeLiteral
	VarRef    *VariableReference // for NodeVariableRef
	Directive *Directive         // for NodeDirective

	Array          *ArrayNode
	Object         *ObjectNode
	Path           *PathNode
	Section        *SectionNode
	LoadContent    *LoadContentNode
	Command        *CommandNode
	Code           *CodeNode
	ExecInvocation *ExecInvocation
	ExeBlock       *ExeBlock
	Binary         *BinaryExpression
	Ternary        *TernaryExpression
	Unary          *UnaryExpression
	When           *WhenExpression
	For            *ForExpression
	Loop           *LoopExpression
	RefWithTail    *VariableReferenceWithTail
	Template       *TemplateNode

	Location Location
}

// Document is an ordered list of top-level nodes.
type Document struct {
	Nodes []Node
}

// DirectiveKind enumerates the directive dispatch table.
type DirectiveKind string

const (
	DirVar    DirectiveKind = "var"
	DirExe    DirectiveKind = "exe"
	DirRun    DirectiveKind = "run"
	DirShow   DirectiveKind = "show"
	DirWhen   DirectiveKind = "when"
	DirFor    DirectiveKind = "for"
	DirImport DirectiveKind = "import"
	DirExport DirectiveKind = "export"
	DirGuard  DirectiveKind = "guard"
	DirEnv    DirectiveKind = "env"
)

// Directive is one directive node. Exactly one of the
// payload fields matching Kind is populated, the same "one typed field
// selected by tag" convention Node uses for RHS subtrees.
type Directive struct {
	Kind     DirectiveKind
	Subtype  string
	Var      *VarSpec
	Exe      *ExeSpec
	Run      *RunSpec
	Show     *ShowSpec
	When     *WhenExpression
	For      *ForExpression
	Import   *ImportSpec
	Export   *ExportSpec
	Env      *EnvSpec
	Guard    *GuardSpec
	Location Location
}

// VarSpec is the `/var` directive payload: a name bound to one RHS
// subtree, dispatched by the bound Node's Kind.
type VarSpec struct {
	Name  string
	Value Node
}

// ExeSpec is the `/exe` directive payload: a named,
// parameterized callable whose body is stored, not executed, until
// invoked.
type ExeSpec struct {
	Name   string
	Params []string
	Body   Node
	Tools  map[string]ToolEntry // non-nil for `/exe … tools { … }` literal form
}

// RunSpec is the `/run` directive payload: a command/code
// invocation evaluated immediately for its side effect and output,
// optionally bound to a name (the `/run @name = …` form).
type RunSpec struct {
	Name string // "" for an unbound `/run`
	Body Node
}

// ShowSpec is the `/show` directive payload: a value or load-content
// expression rendered directly into document output.
type ShowSpec struct {
	Value Node
}

// ExportSpec is the `/export` directive payload: the bindings exposed from
// the current module scope.
type ExportSpec struct {
	Names []string
}

// VariableReference is an identifier with field paths and pipes.
type VariableReference struct {
	Identifier string
	Fields     []FieldAccess
	Pipes      []PipeStage
	ValueType  string
}

// FieldAccessKind distinguishes `.name` from `[n]` from `.length`.
type FieldAccessKind string

const (
	FieldName   FieldAccessKind = "name"
	FieldIndex  FieldAccessKind = "index"
	FieldLength FieldAccessKind = "length"
)

// FieldAccess is one step of a field path.
type FieldAccess struct {
	Kind  FieldAccessKind
	Name  string
	Index int
}

// PipeStage is one `| @stage` in a pipeline.
type PipeStage struct {
	// ExecutableRef names a referenced executable ("@transform").
	ExecutableRef string
	// Args are the stage's call arguments, evaluated in the current
	// environment.
	Args []Node
	// InlineCommand holds an inline `cmd { … }` stage body, if any.
	InlineCommand *CommandNode
	// Parallel holds sibling stages to run concurrently when the grammar
	// produced `| [ @a, @b ]`.
	Parallel []PipeStage
}

// VariableReferenceWithTail pairs a variable reference with a withClause.
type VariableReferenceWithTail struct {
	Variable   VariableReference
	WithClause *WithClause
}

// WithClause carries stdin/pipeline options attached to a command, code,
// or exec invocation.
type WithClause struct {
	Stdin    *Node
	Pipeline []PipeStage
	Raw      bool        // bypass JSON auto-parse
}

// Literal is a parsed primitive/text literal.
type Literal struct {
	Kind  LiteralKind
	Text  string
	Num   float64
	Bool  bool
	Wrap  WrapKind
	Nodes []Node // interpolation template nodes for a wrapper form carrying @name/{{name}} references; nil when Text has none
}

// TemplateNode holds the pre-split interpolation sequence of a lazily
// rendered template (currently only WrapTripleColon literals store one,
// via Node.Template).
type TemplateNode struct {
	Nodes []Node
}

// LiteralKind distinguishes literal payload types.
type LiteralKind string

const (
	LitPrimitiveNumber LiteralKind = "number"
	LitPrimitiveBool   LiteralKind = "bool"
	LitPrimitiveNull   LiteralKind = "null"
	LitText            LiteralKind = "text"
)

// WrapKind is the syntactic wrapper form a text literal used.
type WrapKind string

const (
	WrapSingleQuote WrapKind = "single"
	WrapDoubleQuote WrapKind = "double"
	WrapBacktick    WrapKind = "backtick"
	WrapDoubleColon WrapKind = "doubleColon"
	WrapTripleColon WrapKind = "tripleColon"
	WrapBrackets    WrapKind = "brackets"
)

// ArrayNode / ObjectNode / etc. are the structured RHS subtrees a
// directive's values can hold.
type ArrayNode struct {
	Items []Node
}

type ObjectEntry struct {
	Key   string
	Value Node
}

type ObjectNode struct {
	Entries           []ObjectEntry
	IsToolsCollection bool
}

type PathNode struct {
	Segments []string
}

type SectionNode struct {
	Path      PathNode
	Section   string
	AsSection string
}

type LoadContentNode struct {
	Source  Node
	Options map[string]any
	Pipes   []PipeStage
}

type CommandNode struct {
	Command    []Node      // interpolation template nodes
	WithClause *WithClause
}

type CodeNode struct {
	Language   string
	Code       string
	WithClause *WithClause
}

type ExecInvocation struct {
	Name       string
	Args       []Node
	WithClause *WithClause
}

type ExeBlock struct {
	Params []string
	Body   Node
}

// WhenArm is one `<cond> => <action>` arm.
type WhenArm struct {
	Condition Node
	Action    Node
}

// WhenModifier selects `/when` dispatch semantics.
type WhenModifier string

const (
	WhenFirst WhenModifier = "first"
	WhenAll   WhenModifier = "all"
	WhenAny   WhenModifier = "any"
)

type WhenExpression struct {
	Arms     []WhenArm
	Modifier WhenModifier
	Subject  *Node        // default action of an `any` block, evaluated when at least one arm matched; nil when absent
}

type ForExpression struct {
	Var        string
	Collection Node
	Body       Node
}

type LoopExpression struct {
	Body Node
	Cond Node
}

type BinaryOp string

const (
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpEq  BinaryOp = "=="
	OpNeq BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLte BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGte BinaryOp = ">="
	OpAnd BinaryOp = "&&"
	OpOr  BinaryOp = "||"
)

type BinaryExpression struct {
	Op          BinaryOp
	Left, Right Node
}

type TernaryExpression struct {
	Cond, Then, Else Node
}

type UnaryOp string

const (
	UnaryNot UnaryOp = "!"
	UnaryNeg UnaryOp = "-"
)

type UnaryExpression struct {
	Op      UnaryOp
	Operand Node
}

// GuardArmSpec is one compiled `<cond> => deny "…" | allow` arm of a
// `/guard` directive. The grammar/parser lowers a
// guard's `when` condition to one of these shapes ahead of evaluation;
// the evaluator has no general expression sub-language for conditions,
// only the capability-policy shapes guards actually need.
type GuardArmSpec struct {
	Always      bool   // the `*` wildcard arm
	TaintEquals string // `@input.any.mx.taint.includes("…")`-shaped condition
	LabelEquals string // `@input.any.mx.labels.includes("…")`-shaped condition
	PolicyName  string // `policy("name")`-shaped condition: matches on a named capability policy's allow/deny sets
	Deny        bool
	Reason      string
}

// GuardSpec is the full `/guard` directive payload.
type GuardSpec struct {
	Name      string
	Phase     string         // "before" | "after"
	Operation string         // "run", "exe", "http", "fs", "mcp", "import"
	Arms      []GuardArmSpec
}

// ImportBinding pairs a local name with the exported name it's bound from
// (`{a, b as c}` — Local == Exported when no `as` alias is given).
type ImportBinding struct {
	Local, Exported string
}

// ToolEntry mirrors variable.ToolSpec at the AST layer (ast cannot import
// internal/variable — variable imports ast) for `tools { … } from mcp` and
// `/exe … tools { … }` literal syntax.
type ToolEntry struct {
	MlldRef     string
	Labels      []string
	Description string
	Bind        map[string]any
	Expose      []string
}

// ImportSpec is the full `/import` directive payload.
type ImportSpec struct {
	Specifier string
	Bindings  []ImportBinding
	Wildcard  bool                 // `import * as ns`
	Namespace string               // the `ns` in `* as ns`
	Tools     map[string]ToolEntry
	MCPServer string               // non-empty for `tools { … } from mcp "server"`
}

// EnvSpec is the full `/env` directive payload: scoped collaborator/env
// overrides plus the nested body evaluated under them.
type EnvSpec struct {
	Vars  map[string]string
	Tools map[string]ToolEntry
	Body  []Node
}
