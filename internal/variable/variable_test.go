package variable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
)

func TestPrimitiveRoundTripsNumberBoolNull(t *testing.T) {
	// "Primitive round-trip": no string coercion of the payload.
	num := NewPrimitive("n", Primitive{Kind: PrimNumber, Num: 42}, Source{}, Options{})
	require.Equal(t, KindPrimitive, num.Kind)
	p := num.Value.(Primitive)
	require.Equal(t, PrimNumber, p.Kind)
	require.Equal(t, float64(42), p.Num)

	b := NewPrimitive("b", Primitive{Kind: PrimBool, Bool: true}, Source{}, Options{})
	require.Equal(t, true, b.Value.(Primitive).Bool)

	n := NewPrimitive("nul", Primitive{Kind: PrimNull}, Source{}, Options{})
	require.Equal(t, PrimNull, n.Value.(Primitive).Kind)
}

func TestDescriptorRecoverableFromEveryVariable(t *testing.T) {
	mx := security.Descriptor{Taint: []string{"src:exec"}}
	v := NewSimpleText("x", "hello", Source{}, Options{Mx: mx})
	require.True(t, v.Descriptor().HasTaint("src:exec"))
}

func TestWithDescriptorReturnsIndependentCopy(t *testing.T) {
	v := NewSimpleText("x", "hello", Source{}, Options{})
	tagged := v.WithDescriptor(security.Descriptor{Labels: []string{"pii"}})

	require.False(t, v.Descriptor().HasLabel("pii"))
	require.True(t, tagged.Descriptor().HasLabel("pii"))
}

func TestNewArrayAndObjectTrackComplexity(t *testing.T) {
	simple := NewArray("a", []any{1, 2, 3}, false, Source{}, Options{})
	require.False(t, simple.IsComplex())

	lazy := NewArray("b", []any{ast.Node{Kind: ast.NodeLiteral}}, true, Source{}, Options{})
	require.True(t, lazy.IsComplex())
}

func TestNewTemplateTripleColonStaysLazy(t *testing.T) {
	// "triple-colon laziness": tripleColon templates keep their
	// AST unresolved (BodyAST set, not eagerly rendered) until invoked.
	body := ast.Node{Kind: ast.NodeText, Text: "@name said hi"}
	tv := TemplateValue{Kind: TemplateTripleColon, BodyAST: body}
	v := NewTemplate("greeting", tv, Source{}, Options{})

	stored := v.Value.(TemplateValue)
	require.Equal(t, TemplateTripleColon, stored.Kind)
	require.Equal(t, ast.NodeText, stored.BodyAST.Kind)
	require.Empty(t, stored.Raw)
}

func TestExtractDescriptorMergesFromNestedStructuredValues(t *testing.T) {
	inner := svalue.New(svalue.Text, "secret", nil, security.Descriptor{Taint: []string{"src:exec"}})
	arr := NewArray("items", []any{inner}, false, Source{}, Options{})
	require.True(t, arr.Descriptor().HasTaint("src:exec"))
}

func TestObjectValuePreservesKeyOrder(t *testing.T) {
	// scenario 6: object entry order survives construction.
	o := NewObject("obj", []string{"z", "a", "m"}, map[string]any{"z": 1, "a": 2, "m": 3}, false, Source{}, Options{})
	ov := o.Value.(ObjectValue)
	require.Equal(t, []string{"z", "a", "m"}, ov.Keys)

	v, ok := ov.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}
