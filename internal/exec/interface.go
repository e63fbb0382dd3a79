// Package exec runs external commands for the engine: the automated
// verification checks and workspace plumbing. The interface exists so
// tests can substitute a fake runner.
package exec

import "context"

// CommandRunner runs external commands in a working directory.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a command line through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// Exists checks if a file exists relative to workDir.
	Exists(ctx context.Context, workDir string, path string) bool
}
