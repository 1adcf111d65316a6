// Package eval wires every other internal package into the directive
// evaluators and entry driver: the piece that actually walks a parsed
// Document and mutates an Environment, dispatching each Directive by
// kind through a switch.
package eval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/content"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/guard"
	"github.com/mlld-lang/mlld-sub002/internal/importer"
	"github.com/mlld-lang/mlld-sub002/internal/interp"
	"github.com/mlld-lang/mlld-sub002/internal/mcptools"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/obslog"
	"github.com/mlld-lang/mlld-sub002/internal/pipeline"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

// Mode selects the driver's document-output rendering.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeMarkdown Mode = "markdown"
	ModeXML      Mode = "xml"
)

// Options bundles the driver entry's configuration: initial file path,
// working directory, a payload/state input pair, preloaded dynamic
// modules, the output Mode, and capability policy defaults. There is no
// separate cancellation field — a second, redundant cancellation channel
// would just race the one context.Context that already threads through
// every collaborator call, so callers cancel via ctx instead.
//
// DynamicModules is keyed by specifier, but holds already-parsed
// Documents rather than raw source text: parsing is an
// external collaborator this repo never implements (internal/ast has no
// parser by design), so a caller providing dynamic module source must
// parse it with whatever front end they use before handing it to Evaluate.
type Options struct {
	InitialFilePath  string
	WorkingDirectory string
	Payload          map[string]any
	State            map[string]any
	DynamicModules   map[string]*ast.Document
	Mode             Mode
	PolicyDefaults   map[string]any
	Limits           pipeline.Limits
}

// Result is the driver entry's output.
type Result struct {
	Output      string
	ExportTable map[string]*variable.Variable
	Diagnostics []error
}

// Driver evaluates Documents against a root Environment, tying together
// every collaborator-facing package built so far.
type Driver struct {
	Env      *environment.Environment
	Importer *importer.Resolver
	Invoker  ExecInvoker
	Interp   *interp.Engine
	Content  *content.Loader
	Limits   pipeline.Limits

	out   strings.Builder
	diags []error
}

// ExecInvoker calls a named Executable Variable with positional/keyword
// arguments already resolved to Go values, returning its result.
type ExecInvoker func(ctx context.Context, env *environment.Environment, name string, args map[string]any) (any, error)

// New builds a Driver rooted at env with the default retry budget
// (3 per-stage / 9 global). The Driver wires its own
// ExecInvoker and PipeRunner into interp/pipeline, so Evaluate is the only
// entry point callers need.
func New(env *environment.Environment) *Driver {
	d := &Driver{
		Env:     env,
		Limits:  pipeline.Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9},
		Content: content.New(env.Collaborators.FS, env.WorkingDirectory),
	}
	d.Invoker = d.invokeExecutable
	d.Importer = importer.New(d.evalDocumentInto)
	d.Interp = interp.New(d.runPipes)
	return d
}

// NewWithOptions builds a Driver the way New does, then applies the
// document-level Options the driver entry accepts: a custom
// retry budget, and any DynamicModules layered in front of env's real
// ModuleResolver collaborator so `/import "virtual:foo"` resolves to a
// caller-supplied Document without touching the filesystem.
func NewWithOptions(env *environment.Environment, opts Options) *Driver {
	if opts.InitialFilePath != "" {
		env.CurrentFilePath = opts.InitialFilePath
	}
	if opts.WorkingDirectory != "" {
		env.WorkingDirectory = opts.WorkingDirectory
	}
	for name, val := range opts.Payload {
		env.SetVariable(name, toVariableArg(name, val))
	}
	for name, val := range opts.State {
		env.SetVariable(name, toVariableArg(name, val))
	}
	for name, p := range opts.PolicyDefaults {
		if pol, ok := p.(*security.Policy); ok {
			env.RecordPolicyConfig(name, pol)
		}
	}
	if len(opts.DynamicModules) > 0 {
		env.Collaborators.Resolver = &dynamicResolver{
			modules: opts.DynamicModules,
			next: env.Collaborators.Resolver,
		}
	}
	d := New(env)
	if opts.Limits.MaxRetriesPerStage > 0 || opts.Limits.MaxGlobalRetries > 0 {
		d.Limits = opts.Limits
	}
	return d
}

// dynamicResolver serves pre-parsed Documents for specifiers the caller
// registered via Options.DynamicModules, falling back to the environment's
// normal resolver for everything else.
type dynamicResolver struct {
	modules map[string]*ast.Document
	next    collab.ModuleResolver
}

func (r *dynamicResolver) Resolve(ctx context.Context, specifier, importingPath string) (*ast.Document, error) {
	if doc, ok := r.modules[specifier]; ok {
		return doc, nil
	}
	if r.next == nil {
		return nil, mlerr.New(mlerr.ImportNotFound, "no resolver registered for %q", specifier)
	}
	return r.next.Resolve(ctx, specifier, importingPath)
}

// Evaluate runs doc against the Driver's root Environment and returns the
// rendered document output, its export table, and any non-fatal
// diagnostics collected along the way.
func (d *Driver) Evaluate(ctx context.Context, doc *ast.Document) (Result, error) {
	if err := d.evalDocumentInto(ctx, doc, d.Env); err != nil {
		return Result{Diagnostics: d.diags}, err
	}
	return Result{
		Output:      d.out.String(),
		ExportTable: d.Env.ExportTable(),
		Diagnostics: d.diags,
	}, nil
}

// evalDocumentInto walks doc's nodes in source order against env,
// accumulating Text nodes (and /show output) into the shared output
// buffer — also the EvalFunc internal/importer calls for a freshly
// resolved module.
func (d *Driver) evalDocumentInto(ctx context.Context, doc *ast.Document, env *environment.Environment) error {
	for _, n := range doc.Nodes {
		if err := d.evalNode(ctx, n, env); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) evalNode(ctx context.Context, n ast.Node, env *environment.Environment) error {
	switch n.Kind {
	case ast.NodeText, ast.NodeCodeFence:
		d.out.WriteString(n.Text)
		return nil
	case ast.NodeComment:
		return nil
	case ast.NodeVariableRef:
		res, _, err := d.Interp.ResolveReference(env, *n.VarRef, interp.PipelineInputOrDefault(n.VarRef))
		if err != nil {
			return err
		}
		d.out.WriteString(d.Interp.ToText(env, res))
		return nil
	case ast.NodeDirective:
		return d.evalDirective(ctx, *n.Directive, env)
	default:
		return mlerr.New(mlerr.ValidationFailed, "unexpected top-level node kind %q", n.Kind)
	}
}

// evalDirective dispatches a Directive by Kind through a switch.
func (d *Driver) evalDirective(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	var err error
	switch dir.Kind {
	case ast.DirVar:
		err = d.evalVar(ctx, dir, env)
	case ast.DirExe:
		err = d.evalExe(ctx, dir, env)
	case ast.DirRun:
		_, err = d.evalRun(ctx, dir, env)
	case ast.DirShow:
		err = d.evalShow(ctx, dir, env)
	case ast.DirWhen:
		_, err = d.evalWhen(ctx, dir.When, env)
	case ast.DirFor:
		_, err = d.evalFor(ctx, dir.For, env)
	case ast.DirImport:
		err = d.evalImport(ctx, dir, env)
	case ast.DirExport:
		err = d.evalExport(ctx, dir, env)
	case ast.DirEnv:
		err = d.evalEnv(ctx, dir, env)
	case ast.DirGuard:
		err = d.evalGuard(ctx, dir, env)
	default:
		err = mlerr.New(mlerr.ValidationFailed, "unknown directive kind %q", dir.Kind)
	}
	if err != nil {
		return mlerr.AsError(err).WithDirective(string(dir.Kind), dir.Subtype, mlerr.Location{
			Line: dir.Location.Start.Line, Col: dir.Location.Start.Col,
			EndLine: dir.Location.End.Line, EndCol: dir.Location.End.Col,
			Source: dir.Location.Source,
		}, env.CurrentFilePath)
	}
	env.Auditor.Emit(obslog.Record{Event: obslog.EventDirectiveEval, DirectiveKind: string(dir.Kind)})
	return nil
}

// ---------------------------------------------------------------------
// /var —
// ---------------------------------------------------------------------

func (d *Driver) evalVar(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	if dir.Var == nil || dir.Var.Name == "" {
		return mlerr.New(mlerr.ValidationFailed, "/var missing identifier or value")
	}
	v, err := d.buildVariable(ctx, dir.Var.Name, dir.Var.Value, env)
	if err != nil {
		return err
	}
	env.SetVariable(dir.Var.Name, v)
	return nil
}

// buildVariable dispatches on n.Kind and returns the most-specific
// Variable variant for the resolved value.
func (d *Driver) buildVariable(ctx context.Context, name string, n ast.Node, env *environment.Environment) (*variable.Variable, error) {
	src := variable.Source{DirectiveKind: ast.DirVar}
	opts := variable.Options{}

	switch n.Kind {
	case ast.NodeLiteral:
		return d.buildLiteralVariable(name, n.Literal, env, src, opts)

	case ast.NodeArray:
		return d.buildArrayVariable(ctx, name, n.Array, env, src, opts)

	case ast.NodeObject:
		return d.buildObjectVariable(ctx, name, n.Object, env, src, opts)

	case ast.NodePath:
		results, err := d.Content.Load(ctx, *n.Path, "")
		if err != nil {
			return nil, err
		}
		r := results[0]
		return variable.NewFileContent(name, r.Text, r.Path, src, opts), nil

	case ast.NodeSection:
		results, err := d.Content.Load(ctx, n.Section.Path, n.Section.Section)
		if err != nil {
			return nil, err
		}
		r := results[0]
		heading := r.Section
		if n.Section.AsSection != "" {
			heading = n.Section.AsSection
			r.Text = "## " + heading + "\n\n" + r.Text
		}
		return variable.NewSectionContent(name, r.Text, r.Path, heading, src, opts), nil

	case ast.NodeLoadContent:
		sv, err := d.evalLoadContent(ctx, n.LoadContent, env)
		if err != nil {
			return nil, err
		}
		return variable.NewStructuredValue(name, sv, src, opts), nil

	case ast.NodeCode:
		val, err := d.evalCode(ctx, n.Code, env)
		if err != nil {
			return nil, err
		}
		return variable.NewComputedValue(name, d.Interp.ToText(env, val), n.Code.Language, n.Code.Code, src, opts), nil

	case ast.NodeCommand:
		if n.Command.WithClause != nil {
			rd := ast.Directive{Kind: ast.DirRun, Run: &ast.RunSpec{Body: n}}
			sv, err := d.evalRun(ctx, rd, env)
			if err != nil {
				return nil, err
			}
			return variable.NewCommandResult(name, sv.AsText(), n, src, opts), nil
		}
		res, err := d.InterpolateTextResult(env, n.Command.Command, interp.ShellCommand)
		if err != nil {
			return nil, err
		}
		if err := guard.Consult(ctx, env, "run", environment.GuardBefore, environment.MatchContext{Mx: res.Descriptor()}); err != nil {
			return nil, err
		}
		out, err := env.ExecuteCommand(ctx, res.Text, collab.ExecOptions{Cwd: env.WorkingDirectory})
		if err != nil {
			return nil, err
		}
		return variable.NewCommandResult(name, out.AsText(), n, src, opts), nil

	case ast.NodeVariableRef:
		val, mx, err := d.Interp.ResolveReference(env, *n.VarRef, interp.PipelineInputOrDefault(n.VarRef))
		if err != nil {
			return nil, err
		}
		if vv, ok := val.(*variable.Variable); ok {
			return vv.WithDescriptor(security.Merge(vv.Descriptor(), mx)), nil
		}
		opts.Mx = mx
		return variable.NewStructuredValue(name, toStructuredValue(val, mx), src, opts), nil

	case ast.NodeExecInvocation:
		out, err := d.evalExecInvocation(ctx, n.ExecInvocation, env)
		if err != nil {
			return nil, err
		}
		opts.Mx = out.Descriptor()
		return variable.NewStructuredValue(name, out, src, opts), nil

	case ast.NodeExeBlock:
		out, err := d.evalExeBlock(ctx, n.ExeBlock, env)
		if err != nil {
			return nil, err
		}
		opts.Mx = out.Descriptor()
		return variable.NewStructuredValue(name, out, src, opts), nil

	case ast.NodeBinary, ast.NodeTernary, ast.NodeUnary:
		val, mx, err := d.evalExpr(ctx, n, env)
		if err != nil {
			return nil, err
		}
		return d.buildFromRaw(name, val, mx, src, opts), nil

	case ast.NodeFor:
		arr, err := d.evalFor(ctx, n.For, env)
		if err != nil {
			return nil, err
		}
		return arr, nil

	case ast.NodeWhen:
		we := *n.When
		we.Modifier = ast.WhenFirst
		v, err := d.evalWhen(ctx, &we, env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNull}, src, opts), nil
		}
		v.Name = name
		return v, nil

	case ast.NodeLoop:
		val, mx, err := d.evalLoop(ctx, n.Loop, env)
		if err != nil {
			return nil, err
		}
		return d.buildFromRaw(name, val, mx, src, opts), nil

	case ast.NodeRefWithTail:
		val, mx, err := d.evalRefWithTail(ctx, n.RefWithTail, env)
		if err != nil {
			return nil, err
		}
		return d.buildFromRaw(name, val, mx, src, opts), nil

	default:
		return nil, mlerr.New(mlerr.ValidationFailed, "unsupported /var RHS node kind %q", n.Kind)
	}
}

// buildLiteralVariable resolves a text literal's wrapper form: backtick
// and doubleColon templates interpolate eagerly, right here, against env
// — tripleColon stores its node sequence unresolved (BodyAST) and
// re-interpolates on every read, so a reassigned dependency's latest
// value shows up rather than the value captured at definition time. A
// double-quoted literal carrying `@name`/`{{name}}` references becomes an
// InterpolatedText Variable; one with no interpolation, or any other
// wrapper, stays a plain SimpleText.
func (d *Driver) buildLiteralVariable(name string, lit *ast.Literal, env *environment.Environment, src variable.Source, opts variable.Options) (*variable.Variable, error) {
	src.Wrapper = lit.Wrap
	switch lit.Kind {
	case ast.LitPrimitiveNumber:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNumber, Num: lit.Num}, src, opts), nil
	case ast.LitPrimitiveBool:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimBool, Bool: lit.Bool}, src, opts), nil
	case ast.LitPrimitiveNull:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNull}, src, opts), nil
	}

	src.HasInterpolation = len(lit.Nodes) > 0
	switch lit.Wrap {
	case ast.WrapTripleColon:
		body := ast.Node{Kind: ast.NodeTemplate, Template: &ast.TemplateNode{Nodes: lit.Nodes}}
		return variable.NewTemplate(name, variable.TemplateValue{Kind: variable.TemplateTripleColon, BodyAST: body}, src, opts), nil

	case ast.WrapDoubleColon, ast.WrapBacktick:
		kind := variable.TemplateDoubleColon
		if lit.Wrap == ast.WrapBacktick {
			kind = variable.TemplateBacktick
		}
		if len(lit.Nodes) == 0 {
			return variable.NewTemplate(name, variable.TemplateValue{Kind: kind, Raw: lit.Text}, src, opts), nil
		}
		res, err := d.Interp.InterpolateText(env, lit.Nodes, interp.Template)
		if err != nil {
			return nil, err
		}
		opts.Mx = security.Merge(opts.Mx, res.Descriptor())
		return variable.NewTemplate(name, variable.TemplateValue{Kind: kind, Raw: res.Text}, src, opts), nil

	case ast.WrapDoubleQuote:
		if len(lit.Nodes) == 0 {
			return variable.NewSimpleText(name, lit.Text, src, opts), nil
		}
		res, err := d.Interp.InterpolateText(env, lit.Nodes, interp.Default)
		if err != nil {
			return nil, err
		}
		opts.Mx = security.Merge(opts.Mx, res.Descriptor())
		return variable.NewInterpolatedText(name, res.Text, res.Points, src, opts), nil

	default:
		return variable.NewSimpleText(name, lit.Text, src, opts), nil
	}
}

func (d *Driver) buildArrayVariable(ctx context.Context, name string, a *ast.ArrayNode, env *environment.Environment, src variable.Source, opts variable.Options) (*variable.Variable, error) {
	items := make([]any, 0, len(a.Items))
	complex := false
	for _, item := range a.Items {
		if isComplexNode(item) {
			complex = true
		}
		if complex {
			items = append(items, item)
			continue
		}
		val, mx, err := d.evalExpr(ctx, item, env)
		if err != nil {
			return nil, err
		}
		items = append(items, toStructuredValue(val, mx))
	}
	if complex {
		// Lazy: store every item as its original AST node for later
		// evaluation.
		items = make([]any, len(a.Items))
		for i, item := range a.Items {
			items[i] = item
		}
	}
	return variable.NewArray(name, items, complex, src, opts), nil
}

func isComplexNode(n ast.Node) bool {
	switch n.Kind {
	case ast.NodeCommand, ast.NodeCode, ast.NodeVariableRef, ast.NodeLoadContent,
		ast.NodeSection, ast.NodePath, ast.NodeObject, ast.NodeArray, ast.NodeExecInvocation:
		return true
	default:
		return false
	}
}

func (d *Driver) buildObjectVariable(ctx context.Context, name string, o *ast.ObjectNode, env *environment.Environment, src variable.Source, opts variable.Options) (*variable.Variable, error) {
	if o.IsToolsCollection {
		entries := map[string]variable.ToolSpec{}
		for _, e := range o.Entries {
			te, ok := toolEntryFromNode(e.Value)
			if !ok {
				return nil, mlerr.New(mlerr.ToolsCollectionInvalid, "tool %q entry is not an object literal", e.Key)
			}
			entries[e.Key] = variable.ToolSpec{
				MlldRef: te.MlldRef,
				Labels: te.Labels,
				Description: te.Description,
				Bind: te.Bind,
				Expose: te.Expose,
			}
		}
		valid, err := mcptools.Build(env, entries)
		if err != nil {
			return nil, err
		}
		return variable.NewToolsCollection(name, valid, src, opts), nil
	}

	keys := make([]string, 0, len(o.Entries))
	out := map[string]any{}
	complex := false
	for _, e := range o.Entries {
		keys = append(keys, e.Key)
		if isComplexNode(e.Value) {
			complex = true
			out[e.Key] = e.Value
			continue
		}
		val, mx, err := d.evalExpr(ctx, e.Value, env)
		if err != nil {
			return nil, err
		}
		out[e.Key] = toStructuredValue(val, mx)
	}
	return variable.NewObject(name, keys, out, complex, src, opts), nil
}

func toolEntryFromNode(n ast.Node) (ast.ToolEntry, bool) {
	if n.Kind != ast.NodeObject {
		return ast.ToolEntry{}, false
	}
	te := ast.ToolEntry{Bind: map[string]any{}}
	for _, e := range n.Object.Entries {
		switch e.Key {
		case "mlld":
			if e.Value.Literal != nil {
				te.MlldRef = e.Value.Literal.Text
			}
		case "description":
			if e.Value.Literal != nil {
				te.Description = e.Value.Literal.Text
			}
		case "labels":
			if e.Value.Array != nil {
				for _, it := range e.Value.Array.Items {
					if it.Literal != nil {
						te.Labels = append(te.Labels, it.Literal.Text)
					}
				}
			}
		case "expose":
			if e.Value.Array != nil {
				for _, it := range e.Value.Array.Items {
					if it.Literal != nil {
						te.Expose = append(te.Expose, it.Literal.Text)
					}
				}
			}
		case "bind":
			if e.Value.Object != nil {
				for _, be := range e.Value.Object.Entries {
					if be.Value.Literal != nil {
						te.Bind[be.Key] = literalGoValue(be.Value.Literal)
					}
				}
			}
		}
	}
	return te, true
}

func literalGoValue(l *ast.Literal) any {
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

func (d *Driver) buildFromRaw(name string, val any, mx security.Descriptor, src variable.Source, opts variable.Options) *variable.Variable {
	opts.Mx = mx
	switch t := val.(type) {
	case variable.Primitive:
		return variable.NewPrimitive(name, t, src, opts)
	case string:
		return variable.NewSimpleText(name, t, src, opts)
	default:
		return variable.NewStructuredValue(name, toStructuredValue(val, mx), src, opts)
	}
}

// ---------------------------------------------------------------------
// /exe —
// ---------------------------------------------------------------------

func (d *Driver) evalExe(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	if dir.Exe == nil || dir.Exe.Name == "" {
		return mlerr.New(mlerr.ValidationFailed, "/exe missing identifier")
	}
	language := ""
	kind := variable.ExecTemplate
	switch dir.Exe.Body.Kind {
	case ast.NodeCommand:
		kind = variable.ExecCommand
	case ast.NodeCode:
		kind = variable.ExecCode
		language = dir.Exe.Body.Code.Language
	case ast.NodeExecInvocation:
		kind = variable.ExecComposite
	}
	exe := variable.Executable{
		Kind: kind,
		Params: dir.Exe.Params,
		Language: language,
		Body: dir.Exe.Body,
		CapturedEnv: env,
	}
	v := variable.NewExecutable(dir.Exe.Name, exe, variable.Source{DirectiveKind: ast.DirExe}, variable.Options{})
	env.SetVariable(dir.Exe.Name, v)

	if len(dir.Exe.Tools) > 0 {
		entries := map[string]variable.ToolSpec{}
		for k, te := range dir.Exe.Tools {
			entries[k] = variable.ToolSpec{MlldRef: te.MlldRef, Labels: te.Labels, Description: te.Description, Bind: te.Bind, Expose: te.Expose}
		}
		if _, err := mcptools.Build(env, entries); err != nil {
			return err
		}
	}
	return nil
}

// invokeExecutable looks up name as an Executable Variable, binds args
// positionally into a child of its captured environment, and evaluates its
// body. This is the Driver's ExecInvoker and the
// callback every pipeline stage, MCP tool call and `/run`-via-reference
// path shares.
func (d *Driver) invokeExecutable(ctx context.Context, env *environment.Environment, name string, args map[string]any) (any, error) {
	v := env.GetVariable(strings.TrimPrefix(name, "@"))
	if v == nil || v.Kind != variable.KindExecutable {
		return nil, mlerr.New(mlerr.ValidationFailed, "%q is not a defined executable", name)
	}
	exe, ok := v.Value.(variable.Executable)
	if !ok {
		return nil, mlerr.New(mlerr.ValidationFailed, "%q has no executable payload", name)
	}
	parent, _ := exe.CapturedEnv.(*environment.Environment)
	if parent == nil {
		parent = env
	}
	call := parent.CreateChild()
	for i, p := range exe.Params {
		argVal, ok := args[p]
		if !ok {
			argVal, ok = args[positionalArgName(i)]
		}
		if !ok {
			continue
		}
		call.SetVariable(p, toVariableArg(p, argVal))
	}
	if in, ok := args["input"]; ok {
		call.SetVariable("input", toVariableArg("input", in))
	}

	if err := guard.Consult(ctx, env, "exe", environment.GuardBefore, environment.MatchContext{Mx: v.Descriptor()}); err != nil {
		return nil, err
	}

	switch exe.Body.Kind {
	case ast.NodeCode:
		return d.evalCode(ctx, exe.Body.Code, call)
	case ast.NodeCommand:
		res, err := d.InterpolateTextResult(call, exe.Body.Command.Command, interp.ShellCommand)
		if err != nil {
			return nil, err
		}
		return call.ExecuteCommand(ctx, res.Text, collab.ExecOptions{Cwd: call.WorkingDirectory})
	case ast.NodeExecInvocation:
		return d.evalExecInvocation(ctx, exe.Body.ExecInvocation, call)
	default:
		val, mx, err := d.evalExpr(ctx, exe.Body, call)
		if err != nil {
			return nil, err
		}
		return toStructuredValue(val, mx), nil
	}
}

func toVariableArg(name string, v any) *variable.Variable {
	if vv, ok := v.(*variable.Variable); ok {
		return vv
	}
	if sv, ok := v.(*svalue.Value); ok {
		return variable.NewStructuredValue(name, sv, variable.Source{}, variable.Options{Mx: sv.Descriptor()})
	}
	switch t := v.(type) {
	case string:
		return variable.NewSimpleText(name, t, variable.Source{}, variable.Options{})
	case float64:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNumber, Num: t}, variable.Source{}, variable.Options{})
	case int:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNumber, Num: float64(t)}, variable.Source{}, variable.Options{})
	case bool:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimBool, Bool: t}, variable.Source{}, variable.Options{})
	case nil:
		return variable.NewPrimitive(name, variable.Primitive{Kind: variable.PrimNull}, variable.Source{}, variable.Options{})
	case variable.Primitive:
		return variable.NewPrimitive(name, t, variable.Source{}, variable.Options{})
	default:
		return variable.NewStructuredValue(name, toStructuredValue(v, security.Empty()), variable.Source{}, variable.Options{})
	}
}

func (d *Driver) evalExecInvocation(ctx context.Context, inv *ast.ExecInvocation, env *environment.Environment) (*svalue.Value, error) {
	args := map[string]any{}
	for i, a := range inv.Args {
		val, mx, err := d.evalExpr(ctx, a, env)
		if err != nil {
			return nil, err
		}
		args[positionalArgName(i)] = toStructuredValue(val, mx)
	}
	out, err := d.Invoker(ctx, env, inv.Name, args)
	if err != nil {
		return nil, err
	}
	mx := security.Empty()
	sv := toStructuredValue(out, mx)
	if inv.WithClause != nil && len(inv.WithClause.Pipeline) > 0 {
		res, resMx, err := d.runPipes(env, sv, sv.Descriptor(), inv.WithClause.Pipeline)
		if err != nil {
			return nil, err
		}
		return toStructuredValue(res, resMx), nil
	}
	return sv, nil
}

func (d *Driver) evalExeBlock(ctx context.Context, blk *ast.ExeBlock, env *environment.Environment) (*svalue.Value, error) {
	exe := variable.Executable{Kind: variable.ExecComposite, Params: blk.Params, Body: blk.Body, CapturedEnv: env}
	tmp := "__anon_exeblock__"
	v := variable.NewExecutable(tmp, exe, variable.Source{}, variable.Options{})
	env.SetVariable(tmp, v)
	out, err := d.invokeExecutable(ctx, env, tmp, map[string]any{})
	if err != nil {
		return nil, err
	}
	return toStructuredValue(out, security.Empty()), nil
}

// ---------------------------------------------------------------------
// /run —
// ---------------------------------------------------------------------

func (d *Driver) evalRun(ctx context.Context, dir ast.Directive, env *environment.Environment) (*svalue.Value, error) {
	if dir.Run == nil {
		return nil, mlerr.New(mlerr.ValidationFailed, "/run missing body")
	}
	body := dir.Run.Body

	var text string
	var mx security.Descriptor
	var withClause *ast.WithClause
	var isCode bool
	var codeNode *ast.CodeNode

	switch body.Kind {
	case ast.NodeCommand:
		res, err := d.InterpolateTextResult(env, body.Command.Command, interp.ShellCommand)
		if err != nil {
			return nil, err
		}
		text, mx, withClause = res.Text, res.Descriptor(), body.Command.WithClause
	case ast.NodeCode:
		isCode, codeNode, withClause = true, body.Code, body.Code.WithClause
	case ast.NodeExecInvocation:
		sv, err := d.evalExecInvocation(ctx, body.ExecInvocation, env)
		if err != nil {
			return nil, err
		}
		return d.bindRunResult(dir.Run.Name, sv, env), nil
	case ast.NodeVariableRef:
		val, refMx, err := d.Interp.ResolveReference(env, *body.VarRef, interp.VariableCopy)
		if err != nil {
			return nil, err
		}
		sv := toStructuredValue(val, refMx)
		return d.bindRunResult(dir.Run.Name, sv, env), nil
	default:
		return nil, mlerr.New(mlerr.ValidationFailed, "/run body has unsupported node kind %q", body.Kind)
	}

	if err := guard.Consult(ctx, env, "run", environment.GuardBefore, environment.MatchContext{Mx: mx}); err != nil {
		return nil, err
	}

	opts := collab.ExecOptions{Cwd: env.WorkingDirectory}
	if withClause != nil && withClause.Stdin != nil {
		stdin, err := d.InterpolateTextResult(env, []ast.Node{*withClause.Stdin}, interp.Default)
		if err != nil {
			return nil, err
		}
		opts.Stdin = stdin.Text
	}

	var out *svalue.Value
	if isCode {
		val, err := d.evalCode(ctx, codeNode, env)
		if err != nil {
			return nil, err
		}
		out = toStructuredValue(val, mx)
	} else {
		res, err := env.ExecuteCommand(ctx, text, opts)
		if err != nil {
			return nil, err
		}
		out = res
		if withClause != nil && withClause.Raw {
			out = svalue.New(svalue.Text, res.AsText(), nil, res.Descriptor())
		}
	}

	if withClause != nil && len(withClause.Pipeline) > 0 {
		res, resMx, err := d.runPipes(env, out, out.Descriptor(), withClause.Pipeline)
		if err != nil {
			return nil, err
		}
		out = toStructuredValue(res, resMx)
	}

	return d.bindRunResult(dir.Run.Name, out, env), nil
}

func (d *Driver) bindRunResult(name string, out *svalue.Value, env *environment.Environment) *svalue.Value {
	if name != "" {
		v := variable.NewStructuredValue(name, out, variable.Source{DirectiveKind: ast.DirRun}, variable.Options{Mx: out.Descriptor()})
		env.SetVariable(name, v)
	}
	return out
}

func (d *Driver) evalCode(ctx context.Context, code *ast.CodeNode, env *environment.Environment) (any, error) {
	runner, ok := env.Collaborators.CodeRunners[code.Language]
	if !ok {
		return nil, mlerr.New(mlerr.ExecutionFailed, "no code runner registered for language %q", code.Language)
	}
	bindings := collectBindings(env)
	return runner.Run(ctx, code.Code, bindings)
}

func collectBindings(env *environment.Environment) map[string]any {
	out := map[string]any{}
	for _, name := range env.VisibleVariableNames() {
		out[name] = unwrapForCodeRunner(env.GetVariable(name))
	}
	return out
}

func unwrapForCodeRunner(v *variable.Variable) any {
	if v == nil {
		return nil
	}
	switch vv := v.Value.(type) {
	case *svalue.Value:
		return vv.AsData()
	case variable.Primitive:
		switch vv.Kind {
		case variable.PrimNumber:
			return vv.Num
		case variable.PrimBool:
			return vv.Bool
		default:
			return nil
		}
	case string:
		return vv
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// ---------------------------------------------------------------------
// /show
// ---------------------------------------------------------------------

func (d *Driver) evalShow(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	if dir.Show == nil {
		return mlerr.New(mlerr.ValidationFailed, "/show missing value")
	}
	val, _, err := d.evalExpr(ctx, dir.Show.Value, env)
	if err != nil {
		return err
	}
	d.out.WriteString(d.Interp.ToText(env, val))
	return nil
}

// ---------------------------------------------------------------------
// /when —
// ---------------------------------------------------------------------

func (d *Driver) evalWhen(ctx context.Context, we *ast.WhenExpression, env *environment.Environment) (*variable.Variable, error) {
	if we == nil {
		return nil, mlerr.New(mlerr.ValidationFailed, "/when missing arms")
	}
	modifier := we.Modifier
	if modifier == "" {
		modifier = ast.WhenFirst
	}

	var result *variable.Variable
	matched := false
	for _, arm := range we.Arms {
		cond, _, err := d.evalExpr(ctx, arm.Condition, env)
		if err != nil {
			return nil, err
		}
		if !truthy(cond) {
			continue
		}
		matched = true
		val, mx, err := d.evalExpr(ctx, arm.Action, env)
		if err != nil {
			return nil, err
		}
		result = d.buildFromRaw("", val, mx, variable.Source{DirectiveKind: ast.DirWhen}, variable.Options{})
		if modifier == ast.WhenFirst {
			return result, nil
		}
	}
	if modifier == ast.WhenAny && matched && we.Subject != nil {
		val, mx, err := d.evalExpr(ctx, *we.Subject, env)
		if err != nil {
			return nil, err
		}
		return d.buildFromRaw("", val, mx, variable.Source{DirectiveKind: ast.DirWhen}, variable.Options{}), nil
	}
	return result, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case *variable.Variable:
		return truthy(unwrapVariableValue(t))
	case variable.Primitive:
		switch t.Kind {
		case variable.PrimBool:
			return t.Bool
		case variable.PrimNull:
			return false
		default:
			return t.Num != 0
		}
	case float64:
		return t != 0
	case *svalue.Value:
		return t.AsText() != ""
	default:
		return true
	}
}

// ---------------------------------------------------------------------
// /for —
// ---------------------------------------------------------------------

func (d *Driver) evalFor(ctx context.Context, fe *ast.ForExpression, env *environment.Environment) (*variable.Variable, error) {
	if fe == nil {
		return nil, mlerr.New(mlerr.ValidationFailed, "/for missing collection")
	}
	coll, _, err := d.evalExpr(ctx, fe.Collection, env)
	if err != nil {
		return nil, err
	}

	type entry struct {
		key any
		index int
		value any
	}
	var entries []entry
	switch c := unwrapData(coll).(type) {
	case []any:
		for i, v := range c {
			entries = append(entries, entry{key: i, index: i, value: v})
		}
	case map[string]any:
		i := 0
		for k, v := range c {
			entries = append(entries, entry{key: k, index: i, value: v})
			i++
		}
	default:
		return nil, mlerr.New(mlerr.ValidationFailed, "/for collection is neither array nor object")
	}

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		child := env.CreateChild()
		child.SetVariable(fe.Var, toVariableArg(fe.Var, e.value))
		child.SetVariable("_key", toVariableArg("_key", e.key))
		child.SetVariable("_index", toVariableArg("_index", e.index))
		val, mx, err := d.evalExpr(ctx, fe.Body, child)
		if err != nil {
			return nil, err
		}
		out = append(out, toStructuredValue(val, mx))
	}
	return variable.NewArray("", out, false, variable.Source{DirectiveKind: ast.DirFor}, variable.Options{}), nil
}

// ---------------------------------------------------------------------
// /import, /export —
// ---------------------------------------------------------------------

func (d *Driver) evalImport(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	spec := dir.Import
	if spec == nil || spec.Specifier == "" {
		return mlerr.New(mlerr.ValidationFailed, "/import missing specifier")
	}
	bindings := map[string]string{}
	for _, b := range spec.Bindings {
		bindings[b.Local] = b.Exported
	}
	if err := d.Importer.Import(ctx, env, spec.Specifier, bindings, env); err != nil {
		return err
	}
	env.Auditor.Emit(obslog.Record{Event: obslog.EventImportResolved, Detail: spec.Specifier, Taint: []string{"src:import:" + spec.Specifier}})

	if spec.MCPServer != "" && len(spec.Tools) > 0 {
		mcpCollab, ok := env.Collaborators.MCP.(*collab.StaticMCP)
		if !ok {
			return mlerr.New(mlerr.MCPError, "MCP collaborator does not support static tool registration")
		}
		tools := map[string]variable.ToolSpec{}
		for k, te := range spec.Tools {
			tools[k] = variable.ToolSpec{MlldRef: te.MlldRef, Labels: te.Labels, Description: te.Description, Bind: te.Bind, Expose: te.Expose}
		}
		valid, err := mcptools.Build(env, tools)
		if err != nil {
			return err
		}
		mcptools.AsMCP(mcpCollab, spec.MCPServer, valid, mcptools.Invoker(d.Invoker), env)
	}
	return nil
}

func (d *Driver) evalExport(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	if dir.Export == nil {
		return mlerr.New(mlerr.ValidationFailed, "/export missing names")
	}
	for _, name := range dir.Export.Names {
		if env.GetVariable(name) == nil {
			return mlerr.New(mlerr.UndefinedVariable, "cannot export undefined variable %q", name)
		}
		env.MarkExported(name)
	}
	return nil
}

// ---------------------------------------------------------------------
// /env — "Scoped acquisition"
// ---------------------------------------------------------------------

func (d *Driver) evalEnv(ctx context.Context, dir ast.Directive, env *environment.Environment) (err error) {
	spec := dir.Env
	if spec == nil {
		return mlerr.New(mlerr.ValidationFailed, "/env missing body")
	}
	scoped := env.CreateChild()
	for k, v := range spec.Vars {
		scoped.SetVariable(k, variable.NewSimpleText(k, v, variable.Source{DirectiveKind: ast.DirEnv}, variable.Options{}))
	}
	if len(spec.Tools) > 0 {
		tools := map[string]variable.ToolSpec{}
		for k, te := range spec.Tools {
			tools[k] = variable.ToolSpec{MlldRef: te.MlldRef, Labels: te.Labels, Description: te.Description, Bind: te.Bind, Expose: te.Expose}
		}
		if _, buildErr := mcptools.Build(scoped, tools); buildErr != nil {
			return buildErr
		}
	}
	// RAII-style acquisition: the scoped child environment is
	// discarded on every exit path — normal, error, or guard denial —
	// since nothing outside this function ever retains a reference to it.
	for _, n := range spec.Body {
		if evalErr := d.evalNode(ctx, n, scoped); evalErr != nil {
			return evalErr
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// /guard —
// ---------------------------------------------------------------------

func (d *Driver) evalGuard(ctx context.Context, dir ast.Directive, env *environment.Environment) error {
	spec := dir.Guard
	if spec == nil || spec.Operation == "" {
		return mlerr.New(mlerr.ValidationFailed, "/guard missing operation")
	}
	arms := make([]guard.Arm, 0, len(spec.Arms))
	for _, a := range spec.Arms {
		cond, err := compileGuardCondition(env, a)
		if err != nil {
			return err
		}
		arms = append(arms, guard.Arm{Cond: cond, Deny: a.Deny, Reason: a.Reason})
	}
	phase := environment.GuardBefore
	if spec.Phase == string(environment.GuardAfter) {
		phase = environment.GuardAfter
	}
	env.InstallGuard(environment.GuardClause{
		Name: spec.Name,
		Phase: phase,
		Operation: spec.Operation,
		Eval: guard.Clause(arms),
	})
	return nil
}

// compileGuardCondition lowers one guard arm to a Condition. Most arm
// shapes compile to a direct Go closure over the arm's own fields;
// a policy("name") arm instead builds a Mangle-backed CapabilityEvaluator
// from the named policy recorded on env (by Options.PolicyDefaults or
// Environment.RecordPolicyConfig) and closes over that, so evaluating
// the arm later consults the policy's allow/deny facts rather than
// re-deriving them.
func compileGuardCondition(env *environment.Environment, a ast.GuardArmSpec) (guard.Condition, error) {
	switch {
	case a.Always:
		return guard.Always, nil
	case a.TaintEquals != "":
		return guard.TaintIncludes(a.TaintEquals), nil
	case a.LabelEquals != "":
		label := a.LabelEquals
		return func(mctx environment.MatchContext) bool { return mctx.Mx.HasLabel(label) }, nil
	case a.PolicyName != "":
		policy := env.LookupPolicy(a.PolicyName)
		ev, err := guard.NewCapabilityEvaluator(policy)
		if err != nil {
			return nil, err
		}
		return guard.PolicyViolation(ev), nil
	default:
		return guard.Always, nil
	}
}

// ---------------------------------------------------------------------
// shared expression evaluation
// ---------------------------------------------------------------------

// evalExpr resolves any RHS/body AST node to a raw Go value plus its
// collected SecurityDescriptor — the workhorse every directive evaluator
// funnels through for sub-expressions (conditions, actions, arguments).
func (d *Driver) evalExpr(ctx context.Context, n ast.Node, env *environment.Environment) (any, security.Descriptor, error) {
	switch n.Kind {
	case ast.NodeLiteral:
		if n.Literal != nil && len(n.Literal.Nodes) > 0 {
			res, err := d.Interp.InterpolateText(env, n.Literal.Nodes, interp.Default)
			if err != nil {
				return nil, security.Empty(), err
			}
			return res.Text, res.Descriptor(), nil
		}
		return literalGoValue(n.Literal), security.Empty(), nil
	case ast.NodeText:
		return n.Text, security.Empty(), nil
	case ast.NodeVariableRef:
		val, mx, err := d.Interp.ResolveReference(env, *n.VarRef, interp.PipelineInputOrDefault(n.VarRef))
		return val, mx, err
	case ast.NodeArray:
		items := make([]any, 0, len(n.Array.Items))
		mx := security.Empty()
		for _, it := range n.Array.Items {
			v, m, err := d.evalExpr(ctx, it, env)
			if err != nil {
				return nil, security.Empty(), err
			}
			items = append(items, v)
			mx = security.Merge(mx, m)
		}
		return items, mx, nil
	case ast.NodeObject:
		out := map[string]any{}
		mx := security.Empty()
		for _, e := range n.Object.Entries {
			v, m, err := d.evalExpr(ctx, e.Value, env)
			if err != nil {
				return nil, security.Empty(), err
			}
			out[e.Key] = v
			mx = security.Merge(mx, m)
		}
		return out, mx, nil
	case ast.NodeCommand:
		res, err := d.InterpolateTextResult(env, n.Command.Command, interp.ShellCommand)
		if err != nil {
			return nil, security.Empty(), err
		}
		if err := guard.Consult(ctx, env, "run", environment.GuardBefore, environment.MatchContext{Mx: res.Descriptor()}); err != nil {
			return nil, security.Empty(), err
		}
		out, err := env.ExecuteCommand(ctx, res.Text, collab.ExecOptions{Cwd: env.WorkingDirectory})
		if err != nil {
			return nil, security.Empty(), err
		}
		return out, out.Descriptor(), nil
	case ast.NodeCode:
		val, err := d.evalCode(ctx, n.Code, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		return val, security.Empty(), nil
	case ast.NodeExecInvocation:
		sv, err := d.evalExecInvocation(ctx, n.ExecInvocation, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		return sv, sv.Descriptor(), nil
	case ast.NodeExeBlock:
		sv, err := d.evalExeBlock(ctx, n.ExeBlock, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		return sv, sv.Descriptor(), nil
	case ast.NodePath:
		results, err := d.Content.Load(ctx, *n.Path, "")
		if err != nil {
			return nil, security.Empty(), err
		}
		sv := content.ToStructuredValue(results[0])
		return sv, sv.Descriptor(), nil
	case ast.NodeSection:
		results, err := d.Content.Load(ctx, n.Section.Path, n.Section.Section)
		if err != nil {
			return nil, security.Empty(), err
		}
		sv := content.ToStructuredValue(results[0])
		return sv, sv.Descriptor(), nil
	case ast.NodeLoadContent:
		sv, err := d.evalLoadContent(ctx, n.LoadContent, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		return sv, sv.Descriptor(), nil
	case ast.NodeBinary:
		return d.evalBinary(ctx, n.Binary, env)
	case ast.NodeTernary:
		cond, _, err := d.evalExpr(ctx, n.Ternary.Cond, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		if truthy(cond) {
			return d.evalExpr(ctx, n.Ternary.Then, env)
		}
		return d.evalExpr(ctx, n.Ternary.Else, env)
	case ast.NodeUnary:
		return d.evalUnary(ctx, n.Unary, env)
	case ast.NodeWhen:
		v, err := d.evalWhen(ctx, n.When, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		if v == nil {
			return nil, security.Empty(), nil
		}
		return v.Value, v.Descriptor(), nil
	case ast.NodeFor:
		v, err := d.evalFor(ctx, n.For, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		return v.Value, v.Descriptor(), nil
	case ast.NodeLoop:
		return d.evalLoop(ctx, n.Loop, env)
	case ast.NodeRefWithTail:
		return d.evalRefWithTail(ctx, n.RefWithTail, env)
	default:
		return nil, security.Empty(), mlerr.New(mlerr.ValidationFailed, "cannot evaluate node kind %q as an expression", n.Kind)
	}
}

func (d *Driver) evalLoadContent(ctx context.Context, lc *ast.LoadContentNode, env *environment.Environment) (*svalue.Value, error) {
	pathVal, _, err := d.evalExpr(ctx, lc.Source, env)
	if err != nil {
		return nil, err
	}
	var pn ast.PathNode
	switch t := pathVal.(type) {
	case *svalue.Value:
		pn = ast.PathNode{Segments: []string{t.AsText()}}
	case string:
		pn = ast.PathNode{Segments: []string{t}}
	default:
		return nil, mlerr.New(mlerr.ValidationFailed, "load-content source did not resolve to a path")
	}
	results, err := d.Content.Load(ctx, pn, "")
	if err != nil {
		return nil, err
	}
	if len(results) == 1 {
		sv := content.ToStructuredValue(results[0])
		if lc.Pipes != nil {
			res, mx, err := d.runPipes(env, sv, sv.Descriptor(), lc.Pipes)
			if err != nil {
				return nil, err
			}
			return toStructuredValue(res, mx), nil
		}
		return sv, nil
	}
	items := make([]any, len(results))
	mx := security.Empty()
	for i, r := range results {
		sv := content.ToStructuredValue(r)
		items[i] = sv
		mx = security.Merge(mx, sv.Descriptor())
	}
	return svalue.New(svalue.JSON, "", items, mx), nil
}

func (d *Driver) evalBinary(ctx context.Context, be *ast.BinaryExpression, env *environment.Environment) (any, security.Descriptor, error) {
	lv, lmx, err := d.evalExpr(ctx, be.Left, env)
	if err != nil {
		return nil, security.Empty(), err
	}
	rv, rmx, err := d.evalExpr(ctx, be.Right, env)
	if err != nil {
		return nil, security.Empty(), err
	}
	mx := security.Merge(lmx, rmx)

	switch be.Op {
	case ast.OpAnd:
		return truthy(lv) && truthy(rv), mx, nil
	case ast.OpOr:
		return truthy(lv) || truthy(rv), mx, nil
	case ast.OpEq:
		return valuesEqual(lv, rv), mx, nil
	case ast.OpNeq:
		return !valuesEqual(lv, rv), mx, nil
	}

	ln, lok := asNumber(lv)
	rn, rok := asNumber(rv)
	if !lok || !rok {
		if be.Op == ast.OpAdd {
			return d.Interp.ToText(env, lv) + d.Interp.ToText(env, rv), mx, nil
		}
		return nil, mx, mlerr.New(mlerr.ValidationFailed, "operator %q requires numeric operands", be.Op)
	}
	switch be.Op {
	case ast.OpAdd:
		return ln + rn, mx, nil
	case ast.OpSub:
		return ln - rn, mx, nil
	case ast.OpMul:
		return ln * rn, mx, nil
	case ast.OpDiv:
		if rn == 0 {
			return nil, mx, mlerr.New(mlerr.ValidationFailed, "division by zero")
		}
		return ln / rn, mx, nil
	case ast.OpLt:
		return ln < rn, mx, nil
	case ast.OpLte:
		return ln <= rn, mx, nil
	case ast.OpGt:
		return ln > rn, mx, nil
	case ast.OpGte:
		return ln >= rn, mx, nil
	default:
		return nil, mx, mlerr.New(mlerr.ValidationFailed, "unknown binary operator %q", be.Op)
	}
}

func (d *Driver) evalUnary(ctx context.Context, ue *ast.UnaryExpression, env *environment.Environment) (any, security.Descriptor, error) {
	val, mx, err := d.evalExpr(ctx, ue.Operand, env)
	if err != nil {
		return nil, security.Empty(), err
	}
	switch ue.Op {
	case ast.UnaryNot:
		return !truthy(val), mx, nil
	case ast.UnaryNeg:
		n, ok := asNumber(val)
		if !ok {
			return nil, mx, mlerr.New(mlerr.ValidationFailed, "unary - requires a numeric operand")
		}
		return -n, mx, nil
	default:
		return nil, mx, mlerr.New(mlerr.ValidationFailed, "unknown unary operator %q", ue.Op)
	}
}

// evalLoop evaluates a bounded do-while: Body runs at least once, repeats
// while Cond is truthy. Iteration is capped at loopIterationLimit as a
// safety backstop since there is no static bound on a Cond expression.
func (d *Driver) evalLoop(ctx context.Context, le *ast.LoopExpression, env *environment.Environment) (any, security.Descriptor, error) {
	const loopIterationLimit = 10000
	var last any
	mx := security.Empty()
	for i := 0; i < loopIterationLimit; i++ {
		val, m, err := d.evalExpr(ctx, le.Body, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		last, mx = val, security.Merge(mx, m)
		if le.Cond.Kind == "" {
			break
		}
		cond, _, err := d.evalExpr(ctx, le.Cond, env)
		if err != nil {
			return nil, security.Empty(), err
		}
		if !truthy(cond) {
			break
		}
	}
	return last, mx, nil
}

func (d *Driver) evalRefWithTail(ctx context.Context, rt *ast.VariableReferenceWithTail, env *environment.Environment) (any, security.Descriptor, error) {
	val, mx, err := d.Interp.ResolveReference(env, rt.Variable, interp.VariableCopy)
	if err != nil {
		return nil, security.Empty(), err
	}
	if rt.WithClause == nil {
		return val, mx, nil
	}
	sv := toStructuredValue(val, mx)
	if rt.WithClause.Stdin != nil {
		// stdin only matters when the tail routes through a command; a
		// bare reference has nothing to pipe stdin into, so it is a
		// no-op here (the command/code forms handle Stdin themselves).
		_ = rt.WithClause.Stdin
	}
	if len(rt.WithClause.Pipeline) > 0 {
		res, resMx, err := d.runPipes(env, sv, sv.Descriptor(), rt.WithClause.Pipeline)
		if err != nil {
			return nil, security.Empty(), err
		}
		return res, resMx, nil
	}
	return sv, sv.Descriptor(), nil
}

func valuesEqual(a, b any) bool {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprintf("%v", unwrapData(a)) == fmt.Sprintf("%v", unwrapData(b))
}

func asNumber(v any) (float64, bool) {
	switch t := unwrapData(v).(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case variable.Primitive:
		if t.Kind == variable.PrimNumber {
			return t.Num, true
		}
		return 0, false
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
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

// ---------------------------------------------------------------------
// pipeline wiring —
// ---------------------------------------------------------------------

// runPipes is the interp.PipeRunner: compiles AST pipe stages into
// pipeline.Stage values via the shared ExecInvoker and runs them through
// pipeline.Execute.
func (d *Driver) runPipes(env *environment.Environment, seed any, mx security.Descriptor, pipes []ast.PipeStage) (any, security.Descriptor, error) {
	seedSV := toStructuredValue(seed, mx)
	stages := pipeline.CompileStages(pipes, d.compilePipeStage)
	out, err := pipeline.Execute(context.Background(), env, seedSV, stages, d.Limits)
	if err != nil {
		return nil, security.Empty(), err
	}
	return out, out.Descriptor(), nil
}

// compilePipeStage turns one ast.PipeStage into a pipeline.StageFunc that
// invokes a named executable or an inline command. CompileStages recurses
// into bracketed s.Parallel groups itself, so this is never called for a
// stage carrying Parallel.
func (d *Driver) compilePipeStage(s ast.PipeStage) pipeline.StageFunc {
	return func(ctx context.Context, input *svalue.Value, st *pipeline.State) (pipeline.StageResult, error) {
		if s.ExecutableRef != "" {
			args, err := d.resolveStageArgs(ctx, s.Args, input, d.Env)
			if err != nil {
				return pipeline.StageResult{}, err
			}
			out, err := d.Invoker(ctx, d.Env, s.ExecutableRef, args)
			if err != nil {
				return pipeline.StageResult{}, err
			}
			return stageResultFrom(out, input)
		}
		if s.InlineCommand != nil {
			res, err := d.InterpolateTextResult(d.Env, s.InlineCommand.Command, interp.ShellCommand)
			if err != nil {
				return pipeline.StageResult{}, err
			}
			mctx := environment.MatchContext{Mx: security.Merge(input.Descriptor(), res.Descriptor())}
			if err := guard.Consult(ctx, d.Env, "run", environment.GuardBefore, mctx); err != nil {
				return pipeline.StageResult{}, err
			}
			out, err := d.Env.ExecuteCommand(ctx, res.Text, collab.ExecOptions{Cwd: d.Env.WorkingDirectory})
			if err != nil {
				return pipeline.StageResult{}, err
			}
			return pipeline.StageResult{Signal: pipeline.SignalAdvance, Value: out}, nil
		}
		return pipeline.StageResult{}, mlerr.New(mlerr.ValidationFailed, "empty pipe stage")
	}
}

// resolveStageArgs interpolates a pipe stage's call arguments against env,
// binding `input` to the stage's StructuredValue input for stages that
// reference it positionally.
func (d *Driver) resolveStageArgs(ctx context.Context, argNodes []ast.Node, input *svalue.Value, env *environment.Environment) (map[string]any, error) {
	args := map[string]any{"input": input}
	for i, n := range argNodes {
		val, mx, err := d.evalExpr(ctx, n, env)
		if err != nil {
			return nil, err
		}
		args[positionalArgName(i)] = toStructuredValue(val, mx)
	}
	return args, nil
}

func positionalArgName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return "arg_" + string(letters[i])
	}
	return "arg"
}

// InterpolateTextResult is a convenience wrapper around
// interp.Engine.InterpolateText used throughout the evaluators.
func (d *Driver) InterpolateTextResult(env *environment.Environment, nodes []ast.Node, ctx interp.Context) (interp.Result, error) {
	return d.Interp.InterpolateText(env, nodes, ctx)
}

// stageResultFrom wraps a raw executable result as a pipeline StageResult,
// honouring the pipeline.Signal protocol when the executable's result is a
// PipelineSignal value, otherwise treating the result as a normal advance.
func stageResultFrom(out any, input *svalue.Value) (pipeline.StageResult, error) {
	if sig, ok := out.(PipelineSignal); ok {
		return pipeline.StageResult{
			Signal: pipeline.Signal(sig.Signal),
			Value: toStructuredValue(sig.Value, input.Descriptor()),
			Hint: sig.Hint,
			ResetTo: sig.ResetTo,
		}, nil
	}
	return pipeline.StageResult{Signal: pipeline.SignalAdvance, Value: toStructuredValue(out, input.Descriptor())}, nil
}

// PipelineSignal is the value shape an exe body returns to drive pipeline
// control flow explicitly.
type PipelineSignal struct {
	Signal  string
	Value   any
	Hint    string
	ResetTo int
}

// toStructuredValue normalizes any value the evaluator produces into a
// *svalue.Value, the uniform type every pipeline stage contract requires.
func toStructuredValue(v any, mx security.Descriptor) *svalue.Value {
	switch t := v.(type) {
	case nil:
		return svalue.New(svalue.Text, "", nil, mx)
	case *svalue.Value:
		return t
	case *variable.Variable:
		return toStructuredValue(unwrapVariableValue(t), security.Merge(mx, t.Descriptor()))
	case string:
		return svalue.New(svalue.Text, t, nil, mx)
	case variable.Primitive:
		switch t.Kind {
		case variable.PrimNumber:
			return svalue.New(svalue.JSON, strconv.FormatFloat(t.Num, 'g', -1, 64), t.Num, mx)
		case variable.PrimBool:
			return svalue.New(svalue.JSON, strconv.FormatBool(t.Bool), t.Bool, mx)
		default:
			return svalue.New(svalue.JSON, "null", nil, mx)
		}
	default:
		return svalue.New(svalue.JSON, "", t, mx)
	}
}

func unwrapVariableValue(v *variable.Variable) any {
	if v == nil {
		return nil
	}
	if sv, ok := v.Value.(*svalue.Value); ok {
		return sv
	}
	return v.Value
}
