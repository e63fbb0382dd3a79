// Package provider wraps vendor coding-agent CLIs behind a uniform session
// contract. Vendors differ in session semantics (some are truly interactive,
// some are one-shot exec tools); the contract lets the orchestrator treat
// all of them identically.
package provider

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ActivityKind classifies a live progress notification from a session.
type ActivityKind string

const (
	// ActivityTool reports a tool invocation (e.g. "Read: auth.go").
	ActivityTool ActivityKind = "tool"
	// ActivityThinking reports reasoning text.
	ActivityThinking ActivityKind = "thinking"
	// ActivityText reports a short text snippet.
	ActivityText ActivityKind = "text"
	// ActivityStream reports a raw streamed output chunk.
	ActivityStream ActivityKind = "stream"
)

// ActivityFunc receives live progress notifications while Receive is blocked.
type ActivityFunc func(kind ActivityKind, detail string)

// Session is the uniform lifecycle wrapper around one backend subprocess or
// invocation. Implementations never panic and never leak errors as panics
// across this boundary: Start reports failure as false, Send swallows I/O
// errors (the next Alive check catches a dead session), and Receive returns
// a typed *Error instead of raising.
type Session interface {
	// Start prepares the session in workingDir. An optional system prompt is
	// delivered according to the variant's protocol. Returns false on a
	// missing executable, spawn failure, or permission error.
	Start(workingDir, systemPrompt string) bool

	// Send queues text for the backend. Fire-and-forget: broken-pipe and
	// other I/O errors are swallowed.
	Send(text string)

	// Receive blocks the calling goroutine (not the process) until the
	// backend completes its turn or the timeout elapses. Errors are returned
	// as *Error values, never panics.
	Receive(timeout time.Duration) (string, error)

	// Stop terminates the session gracefully, escalating to a forced kill
	// after a bounded wait.
	Stop()

	// Alive reports whether the session can still accept messages.
	Alive() bool

	// SupportsMultiTurn reports whether the session preserves state between
	// turns without re-sending context.
	SupportsMultiTurn() bool

	// SessionID returns the vendor-native resume handle, if the backend
	// exposes one. Empty when unavailable.
	SessionID() string

	// SetActivityFunc installs the live progress callback.
	SetActivityFunc(fn ActivityFunc)
}

// stopGrace is how long Stop waits for a graceful exit before killing.
const stopGrace = 5 * time.Second

// notifier is the shared activity-callback holder embedded by all variants.
type notifier struct {
	mu sync.Mutex
	fn ActivityFunc
}

// SetActivityFunc installs the live progress callback.
func (n *notifier) SetActivityFunc(fn ActivityFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fn = fn
}

func (n *notifier) notify(kind ActivityKind, detail string) {
	n.mu.Lock()
	fn := n.fn
	n.mu.Unlock()
	if fn != nil {
		fn(kind, detail)
	}
}

// findExecutable locates a vendor CLI, checking PATH first and then the
// common install locations node/cargo tooling uses. Returns ok=false when
// nothing executable was found.
func findExecutable(name string) (string, bool) {
	if found, err := exec.LookPath(name); err == nil {
		return found, true
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return name, false
	}

	candidates := []string{
		filepath.Join(home, ".local", "bin", name),
		filepath.Join(home, ".cargo", "bin", name),
		filepath.Join(home, "bin", name),
		filepath.Join("/usr/local/bin", name),
	}
	for _, c := range candidates {
		if isExecutable(c) {
			return c, true
		}
	}

	// Version-manager layouts keep binaries under per-version directories.
	patterns := []string{
		filepath.Join(home, ".nvm", "versions", "node", "*", "bin", name),
		filepath.Join(home, ".fnm", "node-versions", "*", "installation", "bin", name),
	}
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if len(matches) > 0 {
			// Prefer the most recent version.
			sort.Strings(matches)
			return matches[len(matches)-1], true
		}
	}

	return name, false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// isolatedHome returns the per-account home directory used to keep vendor
// credentials from clashing across accounts.
func isolatedHome(vendor, account string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if account == "" {
		return home
	}
	return filepath.Join(home, ".chad", vendor+"-homes", account)
}
