// Package interp implements the interpolation engine:
// resolving `@name`, `{{name}}` and field paths into strings or values.
package interp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

// Context selects interpolation behaviour.
type Context string

const (
	Default      Context = "default"
	ShellCommand Context = "shell"
	FilePath     Context = "filepath"
	Template     Context = "template"
)

// ResolutionContext selects how a VariableReference resolves its binding:
// VariableCopy, FieldAccess, PipelineInput, or ArrayElement — whether the
// value is unwrapped or kept as a Variable.
type ResolutionContext string

const (
	VariableCopy  ResolutionContext = "VariableCopy"
	FieldAccess   ResolutionContext = "FieldAccess"
	PipelineInput ResolutionContext = "PipelineInput"
	ArrayElement  ResolutionContext = "ArrayElement"
)

// PipeRunner submits a resolved value through the pipeline state machine
// and returns the result; wired by internal/eval to avoid an import cycle
// with internal/pipeline.
type PipeRunner func(env *environment.Environment, seed any, mx security.Descriptor, pipes []ast.PipeStage) (any, security.Descriptor, error)

// Engine resolves interpolation nodes against a caller-supplied
// Environment. It holds no Environment of its own — every directive
// evaluator runs nested scopes (for-loop bodies, executable call
// bindings) as children of the root Environment, so resolution always
// takes the environment actually in scope at the call site rather than a
// fixed one bound at construction.
type Engine struct {
	RunPipes PipeRunner
}

// New builds an interpolation Engine.
func New(runPipes PipeRunner) *Engine {
	return &Engine{RunPipes: runPipes}
}

// Result is the output of interpolating a node sequence: the rendered
// string, every SecurityDescriptor collected along the way, and the
// span of each substitution (for InterpolatedText re-rendering).
type Result struct {
	Text        string
	Descriptors []security.Descriptor
	Points      []variable.InterpolationPoint
}

// Descriptor folds every collected descriptor into one.
func (r Result) Descriptor() security.Descriptor {
	return security.MergeAll(r.Descriptors...)
}

// InterpolateText resolves a sequence of template AST nodes to a string
// against env.
func (e *Engine) InterpolateText(env *environment.Environment, nodes []ast.Node, ctx Context) (Result, error) {
	var sb strings.Builder
	var descs []security.Descriptor
	var points []variable.InterpolationPoint
	for _, n := range nodes {
		switch n.Kind {
		case ast.NodeText:
			// Static template text is part of the command/path syntax
			// itself, not interpolated data — only substituted values
			// need context escaping, or a literal space in "echo hi"
			// would come out single-quoted into one argument.
			sb.WriteString(n.Text)
		case ast.NodeVariableRef:
			val, mx, err := e.ResolveReference(env, *n.VarRef, PipelineInputOrDefault(n.VarRef))
			if err != nil {
				return Result{}, err
			}
			text := applyContextEscaping(e.ToText(env, val), ctx)
			if ctx == FilePath && strings.ContainsRune(text, 0) {
				return Result{}, mlerr.New(mlerr.ValidationFailed, "path value of %q contains an embedded NUL byte", n.VarRef.Identifier)
			}
			start := sb.Len()
			sb.WriteString(text)
			points = append(points, variable.InterpolationPoint{Start: start, End: sb.Len(), Identifier: n.VarRef.Identifier})
			descs = append(descs, mx)
		case ast.NodeLiteral:
			sb.WriteString(e.ToText(env, literalValue(n.Literal)))
		default:
			// Comments/code fences are not interpolated; callers filter
			// them out before reaching here in the common case.
		}
	}
	return Result{Text: sb.String(), Descriptors: descs, Points: points}, nil
}

// PipelineInputOrDefault picks PipelineInput when the reference carries
// pipes, Default (VariableCopy) otherwise — the common-case policy; call
// sites needing FieldAccess/ArrayElement semantics call ResolveReference
// directly with an explicit ResolutionContext.
func PipelineInputOrDefault(ref *ast.VariableReference) ResolutionContext {
	if ref != nil && len(ref.Pipes) > 0 {
		return PipelineInput
	}
	return VariableCopy
}

// ResolveReference implements steps 1-4 for one
// VariableReference: lookup, field walk, optional pipeline submission.
func (e *Engine) ResolveReference(env *environment.Environment, ref ast.VariableReference, rc ResolutionContext) (any, security.Descriptor, error) {
	v := env.GetVariable(ref.Identifier)
	if v == nil {
		return nil, security.Empty(), mlerr.New(mlerr.UndefinedVariable, "undefined variable %q", ref.Identifier)
	}

	var value any
	mx := v.Descriptor()
	switch rc {
	case VariableCopy:
		value = v
	default:
		value = unwrapVariable(v)
	}

	for _, f := range ref.Fields {
		nv, nmx, err := applyField(value, mx, f)
		if err != nil {
			return nil, security.Empty(), err
		}
		value, mx = nv, nmx
	}

	if len(ref.Pipes) > 0 {
		if e.RunPipes == nil {
			return nil, security.Empty(), mlerr.New(mlerr.ValidationFailed, "pipeline requested but no pipeline runner configured")
		}
		out, outMx, err := e.RunPipes(env, value, mx, ref.Pipes)
		if err != nil {
			return nil, security.Empty(), err
		}
		value, mx = out, outMx
	}

	return value, mx, nil
}

func unwrapVariable(v *variable.Variable) any {
	switch v.Kind {
	case variable.KindPrimitive, variable.KindSimpleText, variable.KindStructuredValue:
		return v.Value
	case variable.KindTemplate, variable.KindInterpolated:
		// Unwrapped to the raw TemplateValue/InterpolatedTextValue
		// payload, not text — ToText renders those structs on demand,
		// since rendering a lazy tripleColon template needs the caller's
		// env, which this function doesn't have.
		return v.Value
	default:
		return v.Value
	}
}

func applyField(value any, mx security.Descriptor, f ast.FieldAccess) (any, security.Descriptor, error) {
	switch f.Kind {
	case ast.FieldLength:
		switch d := unwrapData(value).(type) {
		case []any:
			return len(d), mx, nil
		case string:
			return len(d), mx, nil
		}
		return nil, mx, mlerr.New(mlerr.FieldNotFound, ".length on non-array/string value")
	case ast.FieldIndex:
		if sv, ok := value.(*svalue.Value); ok {
			nv, err := sv.Index(f.Index)
			if err != nil {
				return nil, mx, err
			}
			return nv, deriveFieldMx(mx, nv), nil
		}
		if arr, ok := unwrapData(value).([]any); ok {
			if f.Index < 0 || f.Index >= len(arr) {
				return nil, mx, mlerr.New(mlerr.FieldNotFound, "index %d out of range", f.Index)
			}
			return arr[f.Index], mx, nil
		}
		return nil, mx, mlerr.New(mlerr.FieldNotFound, "[%d] on non-array value", f.Index)
	default: // FieldName
		if sv, ok := value.(*svalue.Value); ok {
			nv, err := sv.Field(f.Name)
			if err != nil {
				return nil, mx, err
			}
			return nv, deriveFieldMx(mx, nv), nil
		}
		if obj, ok := unwrapData(value).(map[string]any); ok {
			nv, ok := obj[f.Name]
			if !ok {
				return nil, mx, mlerr.New(mlerr.FieldNotFound, "field %q not found", f.Name)
			}
			return nv, mx, nil
		}
		return nil, mx, mlerr.New(mlerr.FieldNotFound, ".%s on non-object value", f.Name)
	}
}

// deriveFieldMx merges the parent descriptor with whatever the nested
// field's own descriptor carries, per "whose mx is merged
// from parent and field".
func deriveFieldMx(parent security.Descriptor, fieldValue any) security.Descriptor {
	if sv, ok := fieldValue.(*svalue.Value); ok {
		return security.Merge(parent, sv.Descriptor())
	}
	return parent
}

func unwrapData(value any) any {
	switch v := value.(type) {
	case *svalue.Value:
		return v.AsData()
	case *variable.Variable:
		return unwrapData(v.Value)
	default:
		return value
	}
}

// ToText converts a resolved value to its string projection: asText for StructuredValue; String()/JSON.stringify-equivalent
// for raw objects; "" for nil; "undefined" marker preserved for parity
// with the source language's distinction (mlld has no separate undefined,
// so an explicitly-absent field surfaces as the FIELD_NOT_FOUND error
// instead — nil here only ever means "null"). Template/InterpolatedText
// payloads render through their own text, not a Go struct dump — env
// is only consulted for a tripleColon Template, which re-renders its body
// lazily against the current scope on every call.
func (e *Engine) ToText(env *environment.Environment, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case *svalue.Value:
		return v.AsText()
	case *variable.Variable:
		if text, ok := e.renderVariableText(env, v); ok {
			return text
		}
		return e.ToText(env, unwrapVariable(v))
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case int:
		return strconv.Itoa(v)
	case variable.Primitive:
		return primitiveText(v)
	case variable.TemplateValue:
		return e.templateText(env, v)
	case variable.InterpolatedTextValue:
		return v.Text
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// renderVariableText renders a Template/InterpolatedText Variable's text
// directly; ok is false for every other Kind, so the caller falls through
// to unwrapVariable+ToText.
func (e *Engine) renderVariableText(env *environment.Environment, v *variable.Variable) (string, bool) {
	switch v.Kind {
	case variable.KindTemplate:
		tv, _ := v.Value.(variable.TemplateValue)
		return e.templateText(env, tv), true
	case variable.KindInterpolated:
		iv, _ := v.Value.(variable.InterpolatedTextValue)
		return iv.Text, true
	default:
		return "", false
	}
}

// templateText renders a TemplateValue. Backtick/doubleColon were already
// resolved at construction (Raw holds the rendered string); tripleColon
// stays lazy and re-interpolates its BodyAST against env's current
// bindings on every call, so a reassigned dependency's latest value shows
// up on each read instead of the value captured at definition time.
func (e *Engine) templateText(env *environment.Environment, tv variable.TemplateValue) string {
	if tv.Kind != variable.TemplateTripleColon {
		return tv.Raw
	}
	if tv.BodyAST.Kind != ast.NodeTemplate || tv.BodyAST.Template == nil {
		return tv.Raw
	}
	res, err := e.InterpolateText(env, tv.BodyAST.Template.Nodes, Template)
	if err != nil {
		return ""
	}
	return res.Text
}

func primitiveText(p variable.Primitive) string {
	switch p.Kind {
	case variable.PrimNumber:
		return formatNumber(p.Num)
	case variable.PrimBool:
		return strconv.FormatBool(p.Bool)
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func literalValue(l *ast.Literal) any {
	if l == nil {
		return nil
	}
	switch l.Kind {
	case ast.LitPrimitiveNumber:
		return l.Num
	case ast.LitPrimitiveBool:
		return l.Bool
	case ast.LitPrimitiveNull:
		return nil
	default:
		return l.Text
	}
}

// applyContextEscaping implements the per-context behaviour flags:
// ShellCommand quoting, FilePath expansion (InterpolateText rejects a
// FilePath substitution containing a NUL byte), Template
// whitespace preservation, Default no-op.
func applyContextEscaping(s string, ctx Context) string {
	switch ctx {
	case ShellCommand:
		return shellQuoteIfNeeded(s)
	case FilePath:
		return expandFilePath(s)
	default:
		return s
	}
}

func shellQuoteIfNeeded(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_-./:@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func expandFilePath(s string) string {
	// $HOME and ~ expansion; embedded NUL bytes are rejected by the
	// caller (InterpolateText) before a path reaches the filesystem.
	home := homeDir()
	s = strings.ReplaceAll(s, "$HOME", home)
	if strings.HasPrefix(s, "~/") {
		s = home + s[1:]
	}
	s = strings.ReplaceAll(s, "$PROJECTPATH", projectPath())
	return s
}
