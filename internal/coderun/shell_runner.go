package coderun

import (
	"context"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
)

// ShellRunner adapts a collab.Shell into a CodeRunner for the "sh"
// language, so `/exe … lang = sh` bodies and `code sh { … }` RHS nodes
// share the same code-runner dispatch path as every other language.
type ShellRunner struct {
	shell collab.Shell
}

// NewShellRunner builds the "sh" CodeRunner over shell.
func NewShellRunner(shell collab.Shell) *ShellRunner {
	return &ShellRunner{shell: shell}
}

func (r *ShellRunner) Language() string { return "sh" }

func (r *ShellRunner) Run(ctx context.Context, source string, bindings map[string]any) (any, error) {
	// bindings are exposed to sh bodies via the interpolation engine
	// before Run is ever called — the source handed here already has
	// `@name` references resolved into literal shell-quoted text.
	res, err := r.shell.Exec(ctx, source, collab.ExecOptions{})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}
