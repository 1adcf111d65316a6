// Package svalue implements StructuredValue: a value that is
// simultaneously a canonical text rendering and a typed data projection,
// branded so isStructuredValue survives structural cloning.
package svalue

import "github.com/mlld-lang/mlld-sub002/internal/security"

// Type enumerates the structured-value kinds names.
type Type string

const (
	Text     Type = "text"
	JSON     Type = "json"
	YAML     Type = "yaml"
	CSV      Type = "csv"
	TOML     Type = "toml"
	XML      Type = "xml"
	HTML     Type = "html"
	Markdown Type = "markdown"
)

// brand is an unexported marker type; its presence on Value (via the
// unexported field below) is what IsStructuredValue checks, the way the
// spec's "branded object" note describes — but as a genuine sum type
// rather than a tagged plain object, per Design Note "StructuredValue as a
// sum type".
type brand struct{}

// Value is a StructuredValue: dual text/data projections plus provenance.
type Value struct {
	_        brand
	typ      Type
	text     string
	data     any
	mx       security.Descriptor
	metadata map[string]any
}

// New builds a Value. data may be nil for Type==Text, where text is the
// data too.
func New(typ Type, text string, data any, mx security.Descriptor) *Value {
	return &Value{typ: typ, text: text, data: data, mx: mx}
}

// AsText always returns the canonical text rendering without
// re-serializing.
func (v *Value) AsText() string {
	if v == nil {
		return ""
	}
	return v.text
}

// AsData always returns the structured data projection.
func (v *Value) AsData() any {
	if v == nil {
		return nil
	}
	if v.data != nil {
		return v.data
	}
	return v.text
}

// Type reports the structured-value kind.
func (v *Value) Type() Type {
	if v == nil {
		return Text
	}
	return v.typ
}

// Descriptor returns the security descriptor carried by v.
func (v *Value) Descriptor() security.Descriptor {
	if v == nil {
		return security.Empty()
	}
	return v.mx
}

// WithDescriptor returns a copy of v with mx replaced — used when merging
// provenance from a derivation (field access, pipeline stage, …).
func (v *Value) WithDescriptor(mx security.Descriptor) *Value {
	if v == nil {
		return nil
	}
	cp := *v
	cp.mx = mx
	return &cp
}

// Metadata returns v's free-form metadata map (filename, glob info, row
// count, …), creating it lazily.
func (v *Value) Metadata() map[string]any {
	if v == nil {
		return nil
	}
	if v.metadata == nil {
		v.metadata = map[string]any{}
	}
	return v.metadata
}

// SetMetadata sets a metadata key on v, returning v for chaining.
func (v *Value) SetMetadata(key string, val any) *Value {
	v.Metadata()[key] = val
	return v
}

// IsStructuredValue reports whether x carries the StructuredValue brand.
// The brand is inherent to the Go type (a distinct struct), so this is
// simply a type assertion — it survives structural cloning of *Value
// pointers and is re-established by the codecs' constructors whenever a
// value crosses a language boundary (e.g. returning from a code runner)
// and must be re-wrapped.
func IsStructuredValue(x any) bool {
	_, ok := x.(*Value)
	return ok
}

// Field performs `.name` field access on v's data, yielding a new Value
// (when the field is itself a nested map/slice, wrapped as JSON-typed) or
// a raw primitive, with descriptor merged from parent and field taint.
func (v *Value) Field(name string) (any, error) {
	m, ok := v.AsData().(map[string]any)
	if !ok {
		return nil, errFieldAccess(v, name)
	}
	fv, ok := m[name]
	if !ok {
		return nil, errFieldNotFound(name)
	}
	return wrapDerived(fv, v.mx, "field:"+name), nil
}

// Index performs `[n]` array access on v's data.
func (v *Value) Index(i int) (any, error) {
	arr, ok := v.AsData().([]any)
	if !ok || i < 0 || i >= len(arr) {
		return nil, errIndexOutOfRange(v, i)
	}
	return wrapDerived(arr[i], v.mx, "index"), nil
}

// Length returns .length semantics for arrays, strings and objects.
func (v *Value) Length() (int, bool) {
	switch d := v.AsData().(type) {
	case []any:
		return len(d), true
	case string:
		return len(d), true
	case map[string]any:
		return len(d), true
	}
	return 0, false
}

// wrapDerived re-wraps a nested raw value as a *Value carrying the parent's
// descriptor merged with a field-access source annotation, when the nested
// value is itself a map or slice (needs further field access); primitives
// are returned unwrapped.
func wrapDerived(raw any, parentMx security.Descriptor, source string) any {
	switch raw.(type) {
	case map[string]any, []any:
		mx := security.Derive(parentMx, source)
		return New(JSON, "", raw, mx)
	default:
		return raw
	}
}
