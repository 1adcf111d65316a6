package variable

import (
	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
)

// Options bundles the optional arguments every factory accepts:
// `{mx, internal}`.
type Options struct {
	Mx       security.Descriptor
	Internal Internal
}

// extractDescriptor recursively pulls a security.Descriptor out of value —
// used so factories can merge the caller-supplied descriptor with any
// descriptor already embedded in the value being stored.
func extractDescriptor(value any) security.Descriptor {
	switch v := value.(type) {
	case *svalue.Value:
		return v.Descriptor()
	case ArrayValue:
		d := security.Empty()
		for _, item := range v.Items {
			d = security.Merge(d, extractDescriptor(item))
		}
		return d
	case ObjectValue:
		d := security.Empty()
		for _, val := range v.Entries {
			d = security.Merge(d, extractDescriptor(val))
		}
		return d
	case *Variable:
		return v.Descriptor()
	default:
		return security.Empty()
	}
}

func build(name string, kind Kind, value any, src Source, opts Options) *Variable {
	mx := security.Merge(opts.Mx, extractDescriptor(value))
	internal := opts.Internal
	if kind == KindStructuredValue {
		internal.IsStructuredValue = true
		if sv, ok := value.(*svalue.Value); ok {
			internal.StructuredValueType = sv.Type()
		}
	}
	return &Variable{
		Name:     name,
		Kind:     kind,
		Value:    value,
		Src:      src,
		Mx:       FromDescriptor(mx),
		Internal: internal,
	}
}

// NewPrimitive stores a number/bool/null literal, type preserved without
// string coercion.
func NewPrimitive(name string, p Primitive, src Source, opts Options) *Variable {
	return build(name, KindPrimitive, p, src, opts)
}

// NewSimpleText stores a plain string with no interpolation.
func NewSimpleText(name, text string, src Source, opts Options) *Variable {
	return build(name, KindSimpleText, text, src, opts)
}

// NewInterpolatedText stores a resolved string plus its interpolation
// points for re-rendering.
func NewInterpolatedText(name, text string, points []InterpolationPoint, src Source, opts Options) *Variable {
	return build(name, KindInterpolated, InterpolatedTextValue{Text: text, Points: points}, src, opts)
}

// NewTemplate stores a template AST + rendered form, per templateKind.
func NewTemplate(name string, tv TemplateValue, src Source, opts Options) *Variable {
	return build(name, KindTemplate, tv, src, opts)
}

// NewArray stores an ordered sequence; isComplex flags lazy vs eager items.
func NewArray(name string, items []any, isComplex bool, src Source, opts Options) *Variable {
	return build(name, KindArray, ArrayValue{Items: items, IsComplex: isComplex}, src, opts)
}

// NewObject stores a string-keyed mapping, preserving entry order.
func NewObject(name string, keys []string, entries map[string]any, isComplex bool, src Source, opts Options) *Variable {
	return build(name, KindObject, ObjectValue{Keys: keys, Entries: entries, IsComplex: isComplex}, src, opts)
}

// NewExecutable stores a callable definition. No execution happens here —
// invocation is the caller's job once it has resolved arguments.
func NewExecutable(name string, exe Executable, src Source, opts Options) *Variable {
	opts.Internal.ExecutableDef = &exe
	return build(name, KindExecutable, exe, src, opts)
}

// NewStructuredValue wraps sv as a Variable, branding internal.isStructuredValue.
func NewStructuredValue(name string, sv *svalue.Value, src Source, opts Options) *Variable {
	return build(name, KindStructuredValue, sv, src, opts)
}

// NewFileContent stores file text plus its originating path.
func NewFileContent(name, text, path string, src Source, opts Options) *Variable {
	return build(name, KindFileContent, FileContentValue{Text: text, Path: path}, src, opts)
}

// NewSectionContent stores extracted section text plus path/section name.
func NewSectionContent(name, text, path, section string, src Source, opts Options) *Variable {
	return build(name, KindSectionContent, SectionContentValue{Text: text, Path: path, Section: section}, src, opts)
}

// NewCommandResult stores command output plus the originating command AST.
func NewCommandResult(name, text string, cmd ast.Node, src Source, opts Options) *Variable {
	return build(name, KindCommandResult, CommandResultValue{Text: text, Command: cmd}, src, opts)
}

// NewComputedValue stores code-runner output plus (language, source).
func NewComputedValue(name, text, language, source string, src Source, opts Options) *Variable {
	return build(name, KindComputedValue, ComputedValue{Text: text, Language: language, Source: source}, src, opts)
}

// NewToolsCollection stores a ToolsCollection; callers must validate shape
// before calling this (see internal/mcptools.Build, which returns
// TOOLS_COLLECTION_INVALID on failure) — this factory assumes a
// pre-validated tools map.
func NewToolsCollection(name string, tools map[string]ToolSpec, src Source, opts Options) *Variable {
	opts.Internal.IsToolsCollection = true
	opts.Internal.ToolCollection = tools
	return build(name, KindToolsCollection, ToolsCollectionValue{Tools: tools}, src, opts)
}

// ErrInvalidValueKind is returned by factories when asked to store a value
// incompatible with the requested variant.
func ErrInvalidValueKind(kind Kind, reason string) error {
	return mlerr.New(mlerr.InvalidValueKind, "cannot build %s variable: %s", kind, reason)
}
