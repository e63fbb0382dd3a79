package exec

import (
	"context"
	"os/exec"
	"time"
)

// ExecRunner implements CommandRunner on os/exec.
type ExecRunner struct{}

// NewRunner creates an ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes a command line through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Exists checks if a file exists relative to workDir.
func (r *ExecRunner) Exists(ctx context.Context, workDir string, path string) bool {
	cmd := exec.CommandContext(ctx, "test", "-e", path)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.Run() == nil
}

// RunWithTimeout runs a shell command bounded by timeout. The second
// return reports whether the deadline was hit.
func RunWithTimeout(r CommandRunner, workDir, command string, timeout time.Duration) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := r.RunShell(ctx, workDir, command)
	if ctx.Err() == context.DeadlineExceeded {
		return out, true, err
	}
	return out, false, err
}

var _ CommandRunner = (*ExecRunner)(nil)
