package mcptools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

func newEnvWithExe(t *testing.T, name string, params []string) *environment.Environment {
	t.Helper()
	env := environment.New(collab.Collaborators{
		FS:          collab.NewOSFileSystem(),
		Shell:       collab.NewOSShell(),
		CodeRunners: map[string]collab.CodeRunner{},
	}, "/tmp")
	exe := variable.Executable{Kind: variable.ExecCommand, Params: params}
	env.SetVariable(name, variable.NewExecutable(name, exe, variable.Source{}, variable.Options{}))
	return env
}

func TestBuildRejectsUnknownMlldRef(t *testing.T) {
	env := newEnvWithExe(t, "greet", []string{"name"})
	_, err := Build(env, map[string]variable.ToolSpec{
		"greet_tool": {MlldRef: "@missing", Expose: []string{"name"}},
	})
	require.Error(t, err)
}

func TestBuildRejectsBindExposeOverlap(t *testing.T) {
	env := newEnvWithExe(t, "greet", []string{"name"})
	_, err := Build(env, map[string]variable.ToolSpec{
		"greet_tool": {
			MlldRef: "@greet",
			Bind:    map[string]any{"name": "fixed"},
			Expose:  []string{"name"},
		},
	})
	require.Error(t, err)
}

func TestBuildRejectsUncoveredPrefixParam(t *testing.T) {
	env := newEnvWithExe(t, "greet", []string{"name", "count"})
	_, err := Build(env, map[string]variable.ToolSpec{
		"greet_tool": {
			MlldRef: "@greet",
			Expose:  []string{"count"},
		},
	})
	require.Error(t, err)
}

func TestBuildAcceptsFullyCoveredParams(t *testing.T) {
	env := newEnvWithExe(t, "greet", []string{"name", "count"})
	entries := map[string]variable.ToolSpec{
		"greet_tool": {
			MlldRef: "@greet",
			Bind:    map[string]any{"name": "fixed"},
			Expose:  []string{"count"},
		},
	}
	out, err := Build(env, entries)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestAsMCPRoutesBindAndExposeArgs(t *testing.T) {
	env := newEnvWithExe(t, "greet", []string{"name", "count"})
	mcp := collab.NewStaticMCP()

	var seenArgs map[string]any
	invoke := func(_ context.Context, _ *environment.Environment, exeName string, args map[string]any) (any, error) {
		seenArgs = args
		require.Equal(t, "greet", exeName)
		return "ok", nil
	}

	tools := map[string]variable.ToolSpec{
		"greet_tool": {
			MlldRef:     "@greet",
			Description: "greets someone",
			Bind:        map[string]any{"name": "fixed-name"},
			Expose:      []string{"count"},
		},
	}
	AsMCP(mcp, "srv", tools, invoke, env)

	listed, err := mcp.ListTools(context.Background(), "srv")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "greet_tool", listed[0].Name)

	out, err := mcp.Call(context.Background(), "srv", "greet_tool", map[string]any{"count": 3, "ignored": "x"})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, "fixed-name", seenArgs["name"])
	require.Equal(t, 3, seenArgs["count"])
	require.NotContains(t, seenArgs, "ignored")
}
