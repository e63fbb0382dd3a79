package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a runner for the repository at repoPath.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the checked-out branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("git show-ref: %w", err)
	}
	return true, nil
}

// DeleteBranch force-deletes a local branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	_, err := r.run("branch", "-D", name)
	return err
}

// HasChanges reports whether the tree has uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// ChangedFiles lists files changed since the base ref.
func (r *ExecRunner) ChangedFiles(base string) ([]string, error) {
	out, err := r.run("diff", "--name-only", base)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// WorktreeAddNewBranch creates a worktree at path on a new branch.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch string) error {
	_, err := r.run("worktree", "add", "-b", branch, path)
	return err
}

// WorktreeRemove removes the worktree at path.
func (r *ExecRunner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(args...)
	return err
}

// WorktreeList returns the registered worktree paths.
func (r *ExecRunner) WorktreeList() ([]string, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// WorktreePrune drops records of worktrees deleted on disk.
func (r *ExecRunner) WorktreePrune() error {
	_, err := r.run("worktree", "prune")
	return err
}

// IsRepo reports whether the runner's directory is a git repository.
func (r *ExecRunner) IsRepo() bool {
	_, err := r.run("rev-parse", "--git-dir")
	return err == nil
}

var _ Runner = (*ExecRunner)(nil)
