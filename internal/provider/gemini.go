package provider

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chadhq/chad/pkg/models"
)

// GeminiSession is the one-shot synchronous variant: every turn is a single
// `gemini -y -p <prompt>` invocation with no carried context, so the system
// prompt is re-prefixed on each turn.
type GeminiSession struct {
	notifier
	cfg models.BackendConfig

	mu           sync.Mutex
	workingDir   string
	systemPrompt string
	pending      string
	started      bool
	running      *exec.Cmd

	// execName overrides the binary looked up at Start, for tests.
	execName string
}

// NewGeminiSession creates an unstarted one-shot session for cfg.
func NewGeminiSession(cfg models.BackendConfig) *GeminiSession {
	return &GeminiSession{cfg: cfg, execName: "gemini"}
}

// Start records the working directory and system prompt. Fails only when
// the gemini CLI cannot be found.
func (s *GeminiSession) Start(workingDir, systemPrompt string) bool {
	if _, ok := findExecutable(s.execName); !ok {
		s.notify(ActivityText, fmt.Sprintf("gemini CLI not found (%s)", s.execName))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingDir = workingDir
	s.systemPrompt = systemPrompt
	s.started = true
	return true
}

// Send buffers the prompt for the next Receive.
func (s *GeminiSession) Send(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemPrompt != "" {
		s.pending = s.systemPrompt + "\n\n---\n\n" + text
	} else {
		s.pending = text
	}
}

// Receive runs one gemini invocation for the buffered prompt. Output
// preference: stdout, then stderr, then the no-response error.
func (s *GeminiSession) Receive(timeout time.Duration) (string, error) {
	s.mu.Lock()
	prompt := s.pending
	s.pending = ""
	started := s.started
	dir := s.workingDir
	s.mu.Unlock()

	if !started {
		return "", newError(ErrSpawn, "gemini", "session not started")
	}
	if prompt == "" {
		return "", nil
	}

	path, ok := findExecutable(s.execName)
	if !ok {
		return "", newError(ErrSpawn, "gemini", "gemini CLI not found")
	}

	args := []string{"-y"}
	if s.cfg.ModelName != "" && s.cfg.ModelName != "default" {
		args = append(args, "-m", s.cfg.ModelName)
	}
	args = append(args, "-p", prompt)

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", newError(ErrSpawn, "gemini", "failed to start: %v", err)
	}

	s.mu.Lock()
	s.running = cmd
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		s.clearRunning()
		return "", newError(ErrTimeout, "gemini", "turn exceeded %s", timeout)
	case <-done:
		s.clearRunning()
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		s.notify(ActivityText, firstLine(out))
		return out, nil
	}
	if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
		return errOut, nil
	}
	return "", newError(ErrNoResponse, "gemini", "no output produced")
}

func (s *GeminiSession) clearRunning() {
	s.mu.Lock()
	s.running = nil
	s.mu.Unlock()
}

// Stop kills any in-flight invocation and marks the session inactive.
func (s *GeminiSession) Stop() {
	s.mu.Lock()
	cmd := s.running
	s.started = false
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Alive reports whether the logical session accepts further turns.
func (s *GeminiSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SupportsMultiTurn reports that turns share no context.
func (s *GeminiSession) SupportsMultiTurn() bool { return false }

// SessionID returns empty: one-shot invocations have no resume handle.
func (s *GeminiSession) SessionID() string { return "" }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Session = (*GeminiSession)(nil)
