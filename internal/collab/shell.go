package collab

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// OSShell is the default Shell collaborator, backed by os/exec. Exit code
// is the primary failure signal, but EXECUTION_FAILED carries stderr so
// callers/guards can inspect what actually went wrong.
type OSShell struct{}

// NewOSShell builds the default shell collaborator.
func NewOSShell() *OSShell { return &OSShell{} }

func (s *OSShell) Exec(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if opts.Cwd != "" {
		c.Dir = opts.Cwd
	}
	if opts.Stdin != "" {
		c.Stdin = strings.NewReader(opts.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, mlerr.Wrap(mlerr.ExecutionFailed, err, "running %q", cmd).
				WithContext("cmd", cmd)
		}
	}

	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	if exitCode != 0 {
		return result, mlerr.New(mlerr.ExecutionFailed, "command exited %d: %s", exitCode, cmd).
			WithContext("cmd", cmd, "exitCode", exitCode, "stderr", result.Stderr)
	}
	return result, nil
}
