// Package git wraps the git operations the workspace provider needs:
// creating and tearing down per-session worktrees and inspecting what a
// coding session changed.
package git

// Runner is the git surface the workspace provider consumes. The
// interface exists so worktree tests can run without a real repository.
type Runner interface {
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch() (string, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(name string) error

	// HasChanges reports whether the tree has uncommitted changes.
	HasChanges() (bool, error)
	// ChangedFiles lists files changed since the base ref.
	ChangedFiles(base string) ([]string, error)

	// WorktreeAddNewBranch creates a worktree at path on a new branch.
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove removes the worktree at path, optionally forcing
	// past uncommitted changes.
	WorktreeRemove(path string, force bool) error
	// WorktreeList returns the registered worktree paths.
	WorktreeList() ([]string, error)
	// WorktreePrune drops records of worktrees deleted on disk.
	WorktreePrune() error

	// IsRepo reports whether the runner's directory is a git repository.
	IsRepo() bool
}
