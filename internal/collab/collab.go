// Package collab defines the collaborator interfaces the evaluator depends
// on: filesystem, shell, code runners, module resolver, MCP, HTTP. The
// core never imports a concrete transport; it only calls through these
// traits, so a parser, an IDE extension, or a sandboxed worker can each
// supply their own.
package collab

import (
	"context"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
)

// FileSystem is the filesystem collaborator.
type FileSystem interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, content string) error
	Exists(ctx context.Context, path string) (bool, error)
	IsDirectory(ctx context.Context, path string) (bool, error)
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// ExecResult is the outcome of a shell invocation.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecOptions configures a shell invocation.
type ExecOptions struct {
	Cwd   string
	Stdin string
}

// Shell is the shell collaborator.
type Shell interface {
	Exec(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error)
}

// CodeRunner runs a code block in one language with variable bindings.
type CodeRunner interface {
	Language() string
	Run(ctx context.Context, source string, bindings map[string]any) (any, error)
}

// ModuleResolver resolves a module specifier to an AST document.
type ModuleResolver interface {
	Resolve(ctx context.Context, specifier, importingPath string) (*ast.Document, error)
}

// ToolSpec is a tool surfaced by an MCP server.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// MCP is the MCP collaborator.
type MCP interface {
	ListTools(ctx context.Context, server string) ([]ToolSpec, error)
	Call(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// HTTPResponse is the result of an HTTP fetch.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers map[string][]string
}

// HTTPOptions configures an HTTP fetch.
type HTTPOptions struct {
	Method  string
	Headers map[string]string
	Body    string
}

// HTTP is the HTTP collaborator.
type HTTP interface {
	Fetch(ctx context.Context, url string, opts HTTPOptions) (HTTPResponse, error)
}

// Collaborators bundles every collaborator handle an Environment holds.
type Collaborators struct {
	FS          FileSystem
	Shell       Shell
	HTTP        HTTP
	MCP         MCP
	CodeRunners map[string]CodeRunner
	Resolver    ModuleResolver
}
