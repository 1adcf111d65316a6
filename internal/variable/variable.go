// Package variable implements the Variable algebra: a
// tagged variant of every kind of binding the evaluator can hold, each
// carrying source/provenance/internal metadata.
package variable

import (
	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
)

// Kind is the tag of the Variable sum type.
type Kind string

const (
	KindPrimitive       Kind = "Primitive"
	KindSimpleText      Kind = "SimpleText"
	KindInterpolated    Kind = "InterpolatedText"
	KindTemplate        Kind = "Template"
	KindArray           Kind = "Array"
	KindObject          Kind = "Object"
	KindExecutable      Kind = "Executable"
	KindStructuredValue Kind = "StructuredValue"
	KindFileContent     Kind = "FileContent"
	KindSectionContent  Kind = "SectionContent"
	KindCommandResult   Kind = "CommandResult"
	KindComputedValue   Kind = "ComputedValue"
	KindToolsCollection Kind = "ToolsCollection"
)

// Source records how a Variable was defined.
type Source struct {
	DirectiveKind    ast.DirectiveKind
	SyntacticForm    string
	Wrapper          ast.WrapKind
	HasInterpolation bool
	IsMultiLine      bool
}

// MetaExtra is the provenance struct kept in sync with the value's
// SecurityDescriptor.
type MetaExtra struct {
	Labels  []string
	Taint   []string
	Sources []string
	Policy  *security.Policy
}

// ToDescriptor converts MetaExtra to a security.Descriptor.
func (m MetaExtra) ToDescriptor() security.Descriptor {
	return security.Descriptor{Labels: m.Labels, Taint: m.Taint, Sources: m.Sources, Policy: m.Policy}
}

// FromDescriptor builds MetaExtra from a security.Descriptor.
func FromDescriptor(d security.Descriptor) MetaExtra {
	return MetaExtra{Labels: d.Labels, Taint: d.Taint, Sources: d.Sources, Policy: d.Policy}
}

// Internal is implementation metadata not part of the value's public
// semantics.
type Internal struct {
	IsRetryable         bool
	SourceFunction      string
	IsPipelineResult    bool
	IsStructuredValue   bool
	StructuredValueType svalue.Type
	ExecutableDef       *Executable
	TemplateRaw         string
	ToolCollection      any
	IsToolsCollection   bool
	DefinedAt           ast.Location
}

// Executable describes a callable Variable payload.
type Executable struct {
	Kind        ExecutableKind
	Params      []string
	Language    string
	Body        ast.Node
	CapturedEnv any            // *environment.Environment; typed any to avoid import cycle
}

// ExecutableKind enumerates callable shapes.
type ExecutableKind string

const (
	ExecCommand   ExecutableKind = "command"
	ExecCode      ExecutableKind = "code"
	ExecTemplate  ExecutableKind = "template"
	ExecComposite ExecutableKind = "composite"
)

// Variable is the tagged variant every bound name in an Environment holds:
// a Kind discriminator, the payload itself, provenance (Src), the security
// descriptor (Mx), and evaluator-private bookkeeping (Internal).
type Variable struct {
	Name     string
	Kind     Kind
	Value    any
	Src      Source
	Mx       MetaExtra
	Internal Internal
}

// Descriptor recovers the full SecurityDescriptor from mx — every Variable
// carries one, recoverable without walking back to where it was produced.
func (v *Variable) Descriptor() security.Descriptor {
	if v == nil {
		return security.Empty()
	}
	return v.Mx.ToDescriptor()
}

// WithDescriptor returns a copy of v with Mx replaced from d.
func (v *Variable) WithDescriptor(d security.Descriptor) *Variable {
	cp := *v
	cp.Mx = FromDescriptor(d)
	return &cp
}

// IsComplex reports whether an Array/Object Variable stores its items as
// lazy AST (true) or eagerly evaluated values (false).
func (v *Variable) IsComplex() bool {
	switch v.Kind {
	case KindArray:
		if a, ok := v.Value.(ArrayValue); ok {
			return a.IsComplex
		}
	case KindObject:
		if o, ok := v.Value.(ObjectValue); ok {
			return o.IsComplex
		}
	}
	return false
}

// ArrayValue is the payload of a KindArray Variable.
type ArrayValue struct {
	Items     []any // evaluated values, or ast.Node when IsComplex
	IsComplex bool
}

// ObjectValue is the payload of a KindObject Variable.
type ObjectValue struct {
	Keys      []string       // preserves object-entry order
	Entries   map[string]any
	IsComplex bool
}

// Get returns the value stored under key; entry order lives in Keys.
func (o ObjectValue) Get(key string) (any, bool) {
	v, ok := o.Entries[key]
	return v, ok
}

// Primitive payload: numbers/bools/null preserved without string coercion.
type Primitive struct {
	Kind PrimitiveKind
	Num  float64
	Bool bool
}

type PrimitiveKind string

const (
	PrimNumber PrimitiveKind = "number"
	PrimBool   PrimitiveKind = "bool"
	PrimNull   PrimitiveKind = "null"
)

// InterpolationPoint records where a `@name` substitution happened in an
// InterpolatedText's rendered string, for re-rendering.
type InterpolationPoint struct {
	Start, End int
	Identifier string
}

// InterpolatedTextValue is the payload of a KindInterpolated Variable: a
// double-quoted string with one or more `@name`/`{{name}}` references,
// already resolved once at construction time.
type InterpolatedTextValue struct {
	Text   string
	Points []InterpolationPoint
}

// TemplateValue is the payload of a KindTemplate Variable.
type TemplateValue struct {
	Kind    TemplateKind
	Raw     string       // rendered string for backtick/doubleColon
	BodyAST ast.Node     // unresolved AST for tripleColon (lazy)
}

type TemplateKind string

const (
	TemplateBacktick    TemplateKind = "backtick"
	TemplateDoubleColon TemplateKind = "doubleColon"
	TemplateTripleColon TemplateKind = "tripleColon"
)

// FileContentValue / SectionContentValue hold loaded file or file-section
// text alongside the path (and heading, for a section) it came from.
type FileContentValue struct {
	Text string
	Path string
}

type SectionContentValue struct {
	Text    string
	Path    string
	Section string
}

// CommandResultValue / ComputedValue hold the output of a run/exe
// invocation alongside enough provenance to re-describe where it came from.
type CommandResultValue struct {
	Text    string
	Command ast.Node
}

type ComputedValue struct {
	Text     string
	Language string
	Source   string
}

// ToolSpec describes one entry of a ToolsCollection.
type ToolSpec struct {
	MlldRef     string
	Labels      []string
	Description string
	Bind        map[string]any
	Expose      []string
}

// ToolsCollectionValue is the payload of a KindToolsCollection Variable.
type ToolsCollectionValue struct {
	Tools map[string]ToolSpec
}
