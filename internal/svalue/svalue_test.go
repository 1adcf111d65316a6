package svalue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/security"
)

func TestAsTextNeverReserializes(t *testing.T) {
	v := New(JSON, `{"a": 1}`, map[string]any{"a": 1.0}, security.Empty())
	require.Equal(t, `{"a": 1}`, v.AsText())
}

func TestAsDataFallsBackToTextWhenNil(t *testing.T) {
	v := New(Text, "hello", nil, security.Empty())
	require.Equal(t, "hello", v.AsData())
}

func TestIsStructuredValue(t *testing.T) {
	v := New(Text, "x", nil, security.Empty())
	require.True(t, IsStructuredValue(v))
	require.False(t, IsStructuredValue("x"))
	require.False(t, IsStructuredValue(42))
}

func TestWithDescriptorReturnsCopyLeavingOriginalUntouched(t *testing.T) {
	orig := New(Text, "x", nil, security.Empty())
	tagged := orig.WithDescriptor(security.Descriptor{Taint: []string{"src:exec"}})

	require.False(t, orig.Descriptor().HasTaint("src:exec"))
	require.True(t, tagged.Descriptor().HasTaint("src:exec"))
}

func TestFieldAccessOnObjectData(t *testing.T) {
	v := New(JSON, "", map[string]any{"name": "ada", "nested": map[string]any{"x": 1}}, security.Empty())

	name, err := v.Field("name")
	require.NoError(t, err)
	require.Equal(t, "ada", name)

	nested, err := v.Field("nested")
	require.NoError(t, err)
	nv, ok := nested.(*Value)
	require.True(t, ok)
	require.Equal(t, JSON, nv.Type())
}

func TestFieldAccessMissingKeyErrors(t *testing.T) {
	v := New(JSON, "", map[string]any{"a": 1}, security.Empty())
	_, err := v.Field("missing")
	require.Error(t, err)
}

func TestIndexAccessOutOfRangeErrors(t *testing.T) {
	v := New(JSON, "", []any{1, 2, 3}, security.Empty())
	_, err := v.Index(5)
	require.Error(t, err)

	got, err := v.Index(1)
	require.NoError(t, err)
	require.Equal(t, 2, got)
}

func TestLengthForArrayAndStringButNotNumber(t *testing.T) {
	arr := New(JSON, "", []any{1, 2, 3}, security.Empty())
	n, ok := arr.Length()
	require.True(t, ok)
	require.Equal(t, 3, n)

	str := New(Text, "hello", nil, security.Empty())
	n, ok = str.Length()
	require.True(t, ok)
	require.Equal(t, 5, n)

	notLengthable := New(JSON, "", 42, security.Empty())
	_, ok = notLengthable.Length()
	require.False(t, ok)
}

func TestParseJSONRoundTrips(t *testing.T) {
	v, err := ParseJSON(`{"x": 1, "y": "z"}`, security.Empty())
	require.NoError(t, err)
	data, ok := v.AsData().(map[string]any)
	require.True(t, ok)
	require.Equal(t, 1.0, data["x"])
	require.Equal(t, "z", data["y"])
}

func TestDetectAndParseDetectsJSONVsText(t *testing.T) {
	jsonVal := DetectAndParse(`{"ok": true}`, security.Empty())
	require.Equal(t, JSON, jsonVal.Type())

	textVal := DetectAndParse("plain output\n", security.Empty())
	require.Equal(t, Text, textVal.Type())
}

func TestParseCSVProducesRows(t *testing.T) {
	v, err := ParseCSV("a,b\n1,2\n3,4\n", security.Empty())
	require.NoError(t, err)
	rows, ok := v.AsData().([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
}
