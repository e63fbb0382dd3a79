// Package workspace supplies each session an isolated working directory.
// The git implementation uses worktrees so concurrent sessions never
// touch each other's files; projects without git fall back to working
// in place.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chadhq/chad/internal/git"
)

// Provider hands out working directories keyed by session ID. The
// orchestrator treats the returned path as opaque.
type Provider interface {
	// Acquire returns the working directory for a session, creating it
	// if needed.
	Acquire(sessionID string) (string, error)
	// Release tears down a session's directory. force discards
	// uncommitted changes.
	Release(sessionID string, force bool) error
}

// Worktree is one acquired git worktree.
type Worktree struct {
	Path      string
	Branch    string
	SessionID string
	CreatedAt time.Time
}

// GitProvider creates one worktree per session under a base directory,
// each on a branch named chad-<session>.
type GitProvider struct {
	baseDir  string
	repoPath string
	git      git.Runner

	mu     sync.Mutex
	active map[string]*Worktree
}

// NewGitProvider creates a provider for the repository at repoPath.
// baseDir defaults to ~/.cache/chad/worktrees.
func NewGitProvider(baseDir, repoPath string) (*GitProvider, error) {
	return newGitProvider(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewGitProviderWithRunner substitutes a git runner, for tests.
func NewGitProviderWithRunner(baseDir, repoPath string, runner git.Runner) (*GitProvider, error) {
	return newGitProvider(baseDir, repoPath, runner)
}

func newGitProvider(baseDir, repoPath string, runner git.Runner) (*GitProvider, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "chad", "worktrees")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &GitProvider{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		active:   make(map[string]*Worktree),
	}, nil
}

// Acquire creates (or returns) the session's worktree.
func (p *GitProvider) Acquire(sessionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wt, ok := p.active[sessionID]; ok {
		return wt.Path, nil
	}

	branch := "chad-" + sessionID
	path := filepath.Join(p.baseDir, branch)
	if err := p.git.WorktreeAddNewBranch(path, branch); err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	p.active[sessionID] = &Worktree{
		Path:      path,
		Branch:    branch,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
	return path, nil
}

// Release removes the session's worktree and its branch.
func (p *GitProvider) Release(sessionID string, force bool) error {
	p.mu.Lock()
	wt, ok := p.active[sessionID]
	if ok {
		delete(p.active, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	if err := p.git.WorktreeRemove(wt.Path, force); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	if exists, err := p.git.BranchExists(wt.Branch); err == nil && exists {
		_ = p.git.DeleteBranch(wt.Branch)
	}
	return nil
}

// HasChanges reports whether a session's worktree has uncommitted work.
func (p *GitProvider) HasChanges(sessionID string) (bool, error) {
	p.mu.Lock()
	wt, ok := p.active[sessionID]
	p.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("no worktree for session %q", sessionID)
	}
	return git.NewRunner(wt.Path).HasChanges()
}

// Prune drops stale worktree records after crashes or manual deletion.
func (p *GitProvider) Prune() error {
	return p.git.WorktreePrune()
}

// DirectProvider hands every session the project directory itself. Used
// when the project is not a git repository or isolation is disabled.
type DirectProvider struct {
	path string
}

// NewDirectProvider creates a provider that always returns path.
func NewDirectProvider(path string) *DirectProvider {
	return &DirectProvider{path: path}
}

// Acquire returns the project path.
func (p *DirectProvider) Acquire(sessionID string) (string, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return "", fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %q is not a directory", p.path)
	}
	return p.path, nil
}

// Release is a no-op: the project directory outlives the session.
func (p *DirectProvider) Release(sessionID string, force bool) error {
	return nil
}

// ForProject picks the git provider when the project is a repository,
// otherwise the in-place provider.
func ForProject(projectPath string) (Provider, error) {
	runner := git.NewRunner(projectPath)
	if runner.IsRepo() {
		return NewGitProvider("", projectPath)
	}
	return NewDirectProvider(projectPath), nil
}

var (
	_ Provider = (*GitProvider)(nil)
	_ Provider = (*DirectProvider)(nil)
)
