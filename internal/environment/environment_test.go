package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

func newEnv() *Environment {
	return New(collab.Collaborators{FS: collab.NewOSFileSystem()}, "/tmp")
}

func TestChildInheritsParentLookupsButShadowsWrites(t *testing.T) {
	parent := newEnv()
	parent.SetVariable("x", variable.NewSimpleText("x", "parent-value", variable.Source{}, variable.Options{}))

	child := parent.CreateChild()
	require.Equal(t, "parent-value", child.GetVariable("x").Value)

	child.SetVariable("x", variable.NewSimpleText("x", "child-value", variable.Source{}, variable.Options{}))
	require.Equal(t, "child-value", child.GetVariable("x").Value)
	require.Equal(t, "parent-value", parent.GetVariable("x").Value)
}

func TestGetVariableUndefinedReturnsNil(t *testing.T) {
	env := newEnv()
	require.Nil(t, env.GetVariable("nope"))
}

func TestExportTableOnlyIncludesMarkedNames(t *testing.T) {
	env := newEnv()
	env.SetVariable("a", variable.NewSimpleText("a", "1", variable.Source{}, variable.Options{}))
	env.SetVariable("b", variable.NewSimpleText("b", "2", variable.Source{}, variable.Options{}))
	env.MarkExported("a")

	table := env.ExportTable()
	require.Contains(t, table, "a")
	require.NotContains(t, table, "b")
}

func TestVisibleVariableNamesNearestScopeWins(t *testing.T) {
	parent := newEnv()
	parent.SetVariable("x", variable.NewSimpleText("x", "outer", variable.Source{}, variable.Options{}))
	parent.SetVariable("y", variable.NewSimpleText("y", "outer-only", variable.Source{}, variable.Options{}))

	child := parent.CreateChild()
	child.SetVariable("x", variable.NewSimpleText("x", "inner", variable.Source{}, variable.Options{}))

	names := child.VisibleVariableNames()
	require.ElementsMatch(t, []string{"x", "y"}, names)
	require.Equal(t, "inner", child.GetVariable("x").Value)
}

func TestGuardsOrderedOuterToInner(t *testing.T) {
	parent := newEnv()
	outer := GuardClause{Name: "outer", Operation: "run", Phase: GuardBefore}
	parent.InstallGuard(outer)

	child := parent.CreateChild()
	inner := GuardClause{Name: "inner", Operation: "run", Phase: GuardBefore}
	child.InstallGuard(inner)

	guards := child.Guards()
	require.Len(t, guards, 2)
	require.Equal(t, "outer", guards[0].Name)
	require.Equal(t, "inner", guards[1].Name)
}

func TestLookupPolicyWalksParentChain(t *testing.T) {
	parent := newEnv()
	parent.RecordPolicyConfig("p", &security.Policy{Name: "p", Scope: "module"})

	child := parent.CreateChild()
	p := child.LookupPolicy("p")
	require.NotNil(t, p)
	require.Equal(t, "module", p.Scope)
}

func TestPipelineFrameStackPushPop(t *testing.T) {
	env := newEnv()
	require.Nil(t, env.CurrentPipelineFrame())

	env.PushPipelineFrame("frame-1")
	env.PushPipelineFrame("frame-2")
	require.Equal(t, "frame-2", env.CurrentPipelineFrame())

	env.PopPipelineFrame()
	require.Equal(t, "frame-1", env.CurrentPipelineFrame())
}

func TestExecuteCommandTagsExecProvenanceAndDetectsJSON(t *testing.T) {
	env := New(collab.Collaborators{Shell: fakeShell{stdout: `{"ok":true}`}}, "/tmp")
	sv, err := env.ExecuteCommand(context.Background(), "echo hi", collab.ExecOptions{})
	require.NoError(t, err)
	require.True(t, sv.Descriptor().HasTaint("src:exec"))
	require.Contains(t, sv.Descriptor().Sources, "cmd:echo")
}

type fakeShell struct {
	stdout string
}

func (f fakeShell) Exec(context.Context, string, collab.ExecOptions) (collab.ExecResult, error) {
	return collab.ExecResult{Stdout: f.stdout}, nil
}
