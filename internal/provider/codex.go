package provider

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chadhq/chad/pkg/models"
)

// CodexSession is the stateless exec-per-turn variant. The logical session
// stays alive between turns but each Receive runs one codex subprocess with
// the buffered prompt on stdin. Multi-turn context is carried by codex's
// own thread, resumed via the session id scraped from the banner.
type CodexSession struct {
	notifier
	cfg models.BackendConfig

	mu           sync.Mutex
	workingDir   string
	systemPrompt string
	pending      string
	threadID     string
	started      bool
	running      *exec.Cmd

	// execName overrides the binary looked up at Start, for tests.
	execName string
	// showThinking gates the compacted thinking summary in parsed output.
	showThinking bool
}

// NewCodexSession creates an unstarted exec-per-turn session for cfg.
func NewCodexSession(cfg models.BackendConfig) *CodexSession {
	return &CodexSession{cfg: cfg, execName: "codex", showThinking: true}
}

// Start records the working directory and system prompt. The only failure
// mode is a missing codex CLI; no process is launched until Receive.
func (s *CodexSession) Start(workingDir, systemPrompt string) bool {
	if _, ok := findExecutable(s.execName); !ok {
		s.notify(ActivityText, fmt.Sprintf("codex CLI not found (%s)", s.execName))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingDir = workingDir
	s.systemPrompt = systemPrompt
	s.started = true
	return true
}

// Send buffers the prompt for the next Receive. The system prompt is
// re-prefixed on every turn since each turn is a fresh process.
func (s *CodexSession) Send(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemPrompt != "" {
		s.pending = s.systemPrompt + "\n\n---\n\n" + text
	} else {
		s.pending = text
	}
}

// buildArgs assembles the exec command line for one turn. Resumed turns
// reuse the recorded thread id instead of the workdir flags.
func (s *CodexSession) buildArgs() []string {
	if s.threadID != "" {
		return []string{"exec", "--full-auto", "resume", s.threadID, "-"}
	}
	args := []string{"exec", "--full-auto", "--skip-git-repo-check", "-C", s.workingDir}
	if s.cfg.ModelName != "" && s.cfg.ModelName != "default" {
		args = append(args, "-m", s.cfg.ModelName)
	}
	if s.cfg.ReasoningEffort != "" && s.cfg.ReasoningEffort != "default" {
		args = append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", s.cfg.ReasoningEffort))
	}
	return append(args, "-")
}

// Receive runs one codex subprocess for the buffered prompt, streams its
// combined output through the activity callback, and returns the filtered
// response text.
func (s *CodexSession) Receive(timeout time.Duration) (string, error) {
	s.mu.Lock()
	prompt := s.pending
	s.pending = ""
	started := s.started
	args := s.buildArgs()
	dir := s.workingDir
	s.mu.Unlock()

	if !started {
		return "", newError(ErrSpawn, "codex", "session not started")
	}
	if prompt == "" {
		return "", nil
	}

	path, ok := findExecutable(s.execName)
	if !ok {
		return "", newError(ErrSpawn, "codex", "codex CLI not found")
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "HOME="+isolatedHome("codex", s.cfg.AccountName))

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", newError(ErrSpawn, "codex", "stdin pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return "", newError(ErrSpawn, "codex", "failed to start: %v", err)
	}

	s.mu.Lock()
	s.running = cmd
	s.mu.Unlock()

	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	collected := make(chan string, 1)
	go s.collectOutput(pr, collected)

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		done <- err
	}()

	var raw string
	select {
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		s.clearRunning()
		return "", newError(ErrTimeout, "codex", "turn exceeded %s", timeout)
	case waitErr := <-done:
		raw = <-collected
		s.clearRunning()
		if waitErr != nil && strings.TrimSpace(raw) == "" {
			return "", newError(ErrIO, "codex", "exited with error: %v", waitErr)
		}
	}

	parsed := parseCodexOutput(raw)
	if !s.showThinking {
		parsed = stripThinkingSummary(parsed)
	}
	if strings.TrimSpace(parsed) == "" {
		return "", newError(ErrNoResponse, "codex", "no output produced")
	}
	return parsed, nil
}

// collectOutput streams lines to the activity callback while buffering the
// full output, and scrapes the session id from the banner metadata.
func (s *CodexSession) collectOutput(r io.Reader, out chan<- string) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		sb.WriteString(line)
		sb.WriteByte('\n')

		stripped := strings.TrimSpace(line)
		if id, ok := strings.CutPrefix(stripped, "session id:"); ok {
			s.mu.Lock()
			s.threadID = strings.TrimSpace(id)
			s.mu.Unlock()
			continue
		}
		if stripped != "" {
			s.notify(ActivityStream, line+"\n")
		}
	}
	out <- sb.String()
}

func (s *CodexSession) clearRunning() {
	s.mu.Lock()
	s.running = nil
	s.mu.Unlock()
}

// stripThinkingSummary drops the leading thinking block from parsed output.
func stripThinkingSummary(parsed string) string {
	if !strings.HasPrefix(parsed, "*Thinking: ") {
		return parsed
	}
	if _, rest, ok := strings.Cut(parsed, "\n\n"); ok {
		return rest
	}
	return ""
}

// Stop kills any in-flight turn process and marks the session inactive.
func (s *CodexSession) Stop() {
	s.mu.Lock()
	cmd := s.running
	s.started = false
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Alive reports whether the logical session accepts further turns.
func (s *CodexSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SupportsMultiTurn reports that turns share context through codex threads.
func (s *CodexSession) SupportsMultiTurn() bool { return true }

// SessionID returns the codex thread id once one has been observed.
func (s *CodexSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

var _ Session = (*CodexSession)(nil)
