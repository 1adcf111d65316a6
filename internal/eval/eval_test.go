package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/guard"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

// fakeShell records every command it is asked to run and returns a fixed
// stdout, so directive evaluators that shell out can be tested without a
// real process.
type fakeShell struct {
	lastCmd string
	stdout  string
}

func (s *fakeShell) Exec(_ context.Context, cmd string, _ collab.ExecOptions) (collab.ExecResult, error) {
	s.lastCmd = cmd
	return collab.ExecResult{Stdout: s.stdout}, nil
}

func newTestEnv(shell collab.Shell) *environment.Environment {
	return environment.New(collab.Collaborators{
		FS:          collab.NewOSFileSystem(),
		Shell:       shell,
		CodeRunners: map[string]collab.CodeRunner{},
	}, "/tmp")
}

func textLit(s string) ast.Node {
	return ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{Kind: ast.LitText, Text: s}}
}

func numLit(n float64) ast.Node {
	return ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{Kind: ast.LitPrimitiveNumber, Num: n}}
}

func varDirective(name string, value ast.Node) ast.Directive {
	return ast.Directive{Kind: ast.DirVar, Var: &ast.VarSpec{Name: name, Value: value}}
}

func TestEvalVarPrimitiveLiteral(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)

	err := d.evalDirective(context.Background(), varDirective("greeting", textLit("hello")), env)
	require.NoError(t, err)

	v := env.GetVariable("greeting")
	require.NotNil(t, v)
	require.Equal(t, variable.KindSimpleText, v.Kind)
	require.Equal(t, "hello", v.Value)
}

func TestEvalShowAppendsToOutput(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	require.NoError(t, d.evalDirective(ctx, varDirective("name", textLit("world")), env))

	ref := &ast.VariableReference{Identifier: "name"}
	showDir := ast.Directive{Kind: ast.DirShow, Show: &ast.ShowSpec{Value: ast.Node{Kind: ast.NodeVariableRef, VarRef: ref}}}
	require.NoError(t, d.evalDirective(ctx, showDir, env))

	require.Equal(t, "world", d.out.String())
}

func TestEvalRunExecutesThroughShellAndAutoDetectsJSON(t *testing.T) {
	shell := &fakeShell{stdout: `{"ok":true}`}
	env := newTestEnv(shell)
	d := New(env)

	cmdNode := ast.Node{Kind: ast.NodeCommand, Command: &ast.CommandNode{
		Command: []ast.Node{{Kind: ast.NodeText, Text: "echo hi"}},
	}}
	runDir := ast.Directive{Kind: ast.DirRun, Run: &ast.RunSpec{Name: "result", Body: cmdNode}}

	require.NoError(t, d.evalDirective(context.Background(), runDir, env))
	require.Equal(t, "echo hi", shell.lastCmd)

	v := env.GetVariable("result")
	require.NotNil(t, v)
	require.True(t, v.Descriptor().HasTaint("src:exec"))
}

func TestGuardDeniesRun(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	env.InstallGuard(environment.GuardClause{
		Name:      "no-run",
		Phase:     environment.GuardBefore,
		Operation: "run",
		Eval:      guard.Clause([]guard.Arm{{Cond: guard.Always, Deny: true, Reason: "commands disabled"}}),
	})

	cmdNode := ast.Node{Kind: ast.NodeCommand, Command: &ast.CommandNode{
		Command: []ast.Node{{Kind: ast.NodeText, Text: "echo hi"}},
	}}
	runDir := ast.Directive{Kind: ast.DirRun, Run: &ast.RunSpec{Body: cmdNode}}

	err := d.evalDirective(ctx, runDir, env)
	require.Error(t, err)
}

func TestEvalExeAndInvoke(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	// /exe @inc(n) = @n + 1
	body := ast.Node{Kind: ast.NodeBinary, Binary: &ast.BinaryExpression{
		Op:   ast.OpAdd,
		Left: ast.Node{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "n"}},
		Right: numLit(1),
	}}
	exeDir := ast.Directive{Kind: ast.DirExe, Exe: &ast.ExeSpec{Name: "inc", Params: []string{"n"}, Body: body}}
	require.NoError(t, d.evalDirective(ctx, exeDir, env))

	arg := variable.NewPrimitive("n", variable.Primitive{Kind: variable.PrimNumber, Num: 41}, variable.Source{}, variable.Options{})
	out, err := d.invokeExecutable(ctx, env, "inc", map[string]any{"n": arg})
	require.NoError(t, err)

	sv := toStructuredValue(out, security.Empty())
	require.Equal(t, float64(42), sv.AsData())
}

func TestEvalForIteratesArray(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	arr := ast.Node{Kind: ast.NodeArray, Array: &ast.ArrayNode{Items: []ast.Node{numLit(1), numLit(2), numLit(3)}}}
	forExpr := &ast.ForExpression{
		Var:        "item",
		Collection: arr,
		Body:       ast.Node{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "item"}},
	}

	result, err := d.evalFor(ctx, forExpr, env)
	require.NoError(t, err)
	require.Equal(t, variable.KindArray, result.Kind)

	items := result.Value.(variable.ArrayValue).Items
	require.Len(t, items, 3)
}

// TestEvalForBodyInterpolatesLoopVariable guards against a regression where
// the interpolation engine resolved references against a fixed root
// Environment rather than the loop body's child scope: each iteration's
// `@item` binding is only visible in that child, so a body literal
// referencing it must resolve per-iteration, not just once against the
// outer scope.
func TestEvalForBodyInterpolatesLoopVariable(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	arr := ast.Node{Kind: ast.NodeArray, Array: &ast.ArrayNode{Items: []ast.Node{numLit(1), numLit(2), numLit(3)}}}
	body := ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{
		Kind: ast.LitText,
		Wrap: ast.WrapBacktick,
		Nodes: []ast.Node{
			{Kind: ast.NodeText, Text: "n="},
			{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "item"}},
		},
	}}
	forExpr := &ast.ForExpression{Var: "item", Collection: arr, Body: body}

	result, err := d.evalFor(ctx, forExpr, env)
	require.NoError(t, err)

	items := result.Value.(variable.ArrayValue).Items
	require.Len(t, items, 3)
	got := make([]any, len(items))
	for i, it := range items {
		got[i] = it.(*svalue.Value).AsData()
	}
	require.Equal(t, []any{"n=1", "n=2", "n=3"}, got)
}

func TestEvalWhenFirstMatch(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	we := &ast.WhenExpression{
		Modifier: ast.WhenFirst,
		Arms: []ast.WhenArm{
			{Condition: ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{Kind: ast.LitPrimitiveBool, Bool: false}}, Action: textLit("no")},
			{Condition: ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{Kind: ast.LitPrimitiveBool, Bool: true}}, Action: textLit("yes")},
		},
	}

	v, err := d.evalWhen(ctx, we, env)
	require.NoError(t, err)
	require.Equal(t, "yes", v.Value)
}

func TestEvalVarBacktickTemplateInterpolates(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	require.NoError(t, d.evalDirective(ctx, varDirective("name", textLit("Ada")), env))

	greeting := ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{
		Kind: ast.LitText,
		Wrap: ast.WrapBacktick,
		Nodes: []ast.Node{
			{Kind: ast.NodeText, Text: "Hello, "},
			{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "name"}},
			{Kind: ast.NodeText, Text: "!"},
		},
	}}
	require.NoError(t, d.evalDirective(ctx, varDirective("greeting", greeting), env))

	v := env.GetVariable("greeting")
	require.NotNil(t, v)
	require.Equal(t, variable.KindTemplate, v.Kind)

	showDir := ast.Directive{Kind: ast.DirShow, Show: &ast.ShowSpec{
		Value: ast.Node{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "greeting"}},
	}}
	require.NoError(t, d.evalDirective(ctx, showDir, env))
	require.Equal(t, "Hello, Ada!", d.out.String())
}

func TestEvalVarDoubleQuotedInterpolatesToInterpolatedText(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	require.NoError(t, d.evalDirective(ctx, varDirective("name", textLit("Ada")), env))

	lit := ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{
		Kind: ast.LitText,
		Wrap: ast.WrapDoubleQuote,
		Nodes: []ast.Node{
			{Kind: ast.NodeText, Text: "hi "},
			{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "name"}},
		},
	}}
	require.NoError(t, d.evalDirective(ctx, varDirective("greeting", lit), env))

	v := env.GetVariable("greeting")
	require.NotNil(t, v)
	require.Equal(t, variable.KindInterpolated, v.Kind)
	require.Equal(t, "hi Ada", v.Value.(variable.InterpolatedTextValue).Text)
}

// TestEvalVarTripleColonReinterpolatesOnEachShow guards triple-colon
// laziness: a `:::`-wrapped template stores its body unresolved and
// re-renders against whatever the referenced name is bound to at read
// time, so reassigning the dependency changes what a later /show prints.
func TestEvalVarTripleColonReinterpolatesOnEachShow(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	require.NoError(t, d.evalDirective(ctx, varDirective("who", textLit("Ada")), env))

	tmpl := ast.Node{Kind: ast.NodeLiteral, Literal: &ast.Literal{
		Kind: ast.LitText,
		Wrap: ast.WrapTripleColon,
		Nodes: []ast.Node{
			{Kind: ast.NodeText, Text: "hi "},
			{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "who"}},
		},
	}}
	require.NoError(t, d.evalDirective(ctx, varDirective("greeting", tmpl), env))

	showDir := ast.Directive{Kind: ast.DirShow, Show: &ast.ShowSpec{
		Value: ast.Node{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "greeting"}},
	}}
	require.NoError(t, d.evalDirective(ctx, showDir, env))
	require.Equal(t, "hi Ada", d.out.String())

	d.out.Reset()
	require.NoError(t, d.evalDirective(ctx, varDirective("who", textLit("Grace")), env))
	require.NoError(t, d.evalDirective(ctx, showDir, env))
	require.Equal(t, "hi Grace", d.out.String())
}

func TestGuardPolicyArmDeniesTaintOutsideAllowSet(t *testing.T) {
	env := newTestEnv(&fakeShell{stdout: "ok"})
	d := New(env)
	ctx := context.Background()

	env.RecordPolicyConfig("net-capability", &security.Policy{Allow: []string{"src:file"}})
	guardDir := ast.Directive{Kind: ast.DirGuard, Guard: &ast.GuardSpec{
		Name: "capability-check", Phase: "before", Operation: "run",
		Arms: []ast.GuardArmSpec{{PolicyName: "net-capability", Deny: true, Reason: "outside capability policy"}},
	}}
	require.NoError(t, d.evalDirective(ctx, guardDir, env))

	require.NoError(t, d.evalDirective(ctx, varDirective("url", textLit("http://x")), env))
	src := variable.Source{}
	tainted := variable.NewSimpleText("tainted", "http://x", src, variable.Options{Mx: security.Descriptor{Taint: []string{"src:net"}}})
	env.SetVariable("tainted", tainted)

	cmdNode := ast.Node{Kind: ast.NodeCommand, Command: &ast.CommandNode{
		Command: []ast.Node{{Kind: ast.NodeVariableRef, VarRef: &ast.VariableReference{Identifier: "tainted"}}},
	}}
	runDir := ast.Directive{Kind: ast.DirRun, Run: &ast.RunSpec{Body: cmdNode}}

	err := d.evalDirective(ctx, runDir, env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside capability policy")
}

func TestEvalExportRequiresDefinedVariable(t *testing.T) {
	env := newTestEnv(&fakeShell{})
	d := New(env)
	ctx := context.Background()

	err := d.evalExport(ctx, ast.Directive{Kind: ast.DirExport, Export: &ast.ExportSpec{Names: []string{"missing"}}}, env)
	require.Error(t, err)

	require.NoError(t, d.evalDirective(ctx, varDirective("present", textLit("x")), env))
	require.NoError(t, d.evalExport(ctx, ast.Directive{Kind: ast.DirExport, Export: &ast.ExportSpec{Names: []string{"present"}}}, env))
	require.Contains(t, env.ExportTable(), "present")
}
