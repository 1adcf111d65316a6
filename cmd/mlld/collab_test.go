package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCollaboratorsWiresCodeRunners(t *testing.T) {
	c := buildCollaborators()
	require.NotNil(t, c.FS)
	require.NotNil(t, c.Shell)
	require.NotNil(t, c.HTTP)
	require.NotNil(t, c.MCP)
	require.Contains(t, c.CodeRunners, "go")
	require.Contains(t, c.CodeRunners, "sh")
	require.NotNil(t, c.Resolver)
}

func TestNoResolverRejectsEveryImport(t *testing.T) {
	_, err := noResolver{}.Resolve(context.Background(), "./anything", "main.json")
	require.Error(t, err)
}
