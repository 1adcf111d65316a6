package main

import (
	"context"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/coderun"
	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// buildCollaborators wires the real OS-backed collaborators (filesystem,
// shell, HTTP) plus the registered code runners (Go via yaegi, sh via the
// shell collaborator itself). MCP starts as an empty static registry that
// `/import … from mcp` populates at evaluation time.
func buildCollaborators() collab.Collaborators {
	shell := collab.NewOSShell()
	mcp := collab.NewStaticMCP()
	return collab.Collaborators{
		FS:    collab.NewOSFileSystem(),
		Shell: shell,
		HTTP:  collab.NewOSHTTP(),
		MCP:   mcp,
		CodeRunners: map[string]collab.CodeRunner{
			"go": coderun.NewGoRunner(),
			"sh": coderun.NewShellRunner(shell),
		},
		Resolver: noResolver{},
	}
}

// noResolver rejects every `/import` specifier with a clear diagnostic.
// Module resolution requires turning a specifier into a parsed Document,
// which in turn requires a parser — an external collaborator this
// repository deliberately never implements. Callers that
// need imports to work supply pre-parsed Documents via
// eval.Options.DynamicModules instead, which NewWithOptions layers in
// front of this resolver.
type noResolver struct{}

func (noResolver) Resolve(_ context.Context, specifier, _ string) (*ast.Document, error) {
	return nil, mlerr.New(mlerr.ImportNotFound,
		"cannot resolve %q: this binary has no parser collaborator; supply pre-parsed modules via eval.Options.DynamicModules", specifier)
}
