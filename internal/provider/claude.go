package provider

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chadhq/chad/pkg/models"
)

// claudeIdleGrace is how long Receive waits for a further frame once content
// has arrived before treating the turn as complete without a result marker.
const claudeIdleGrace = 2 * time.Second

// ClaudeSession is the bidirectional streaming variant: one long-lived
// process speaking newline-delimited JSON in both directions. Turns are
// framed by an explicit "result" event, with an idle grace fallback.
type ClaudeSession struct {
	notifier
	cfg models.BackendConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	started bool
	exited  chan struct{}

	// execName overrides the binary looked up at Start, for tests.
	execName string
}

// NewClaudeSession creates an unstarted streaming session for cfg.
func NewClaudeSession(cfg models.BackendConfig) *ClaudeSession {
	return &ClaudeSession{cfg: cfg, execName: "claude"}
}

// userFrame is the stdin wire format for one user turn.
type userFrame struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func encodeUserFrame(text string) ([]byte, error) {
	var f userFrame
	f.Type = "user"
	f.Message.Role = "user"
	f.Message.Content = append(f.Message.Content, struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: text})
	return json.Marshal(&f)
}

// Start launches the claude process with permission prompts disabled and
// stream-json framing on both pipes. Returns false if the CLI is missing or
// fails to spawn.
func (s *ClaudeSession) Start(workingDir, systemPrompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return false
	}

	path, ok := findExecutable(s.execName)
	if !ok {
		s.notify(ActivityText, fmt.Sprintf("claude CLI not found (%s)", s.execName))
		return false
	}

	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--permission-mode", "bypassPermissions",
		"--verbose",
	}
	if s.cfg.ModelName != "" && s.cfg.ModelName != "default" {
		args = append(args, "--model", s.cfg.ModelName)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "CLAUDE_CONFIG_DIR="+claudeConfigDir(s.cfg.AccountName))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return false
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false
	}

	if err := cmd.Start(); err != nil {
		s.notify(ActivityText, fmt.Sprintf("failed to start claude: %v", err))
		return false
	}

	s.cmd = cmd
	s.stdin = stdin
	s.lines = make(chan string, 256)
	s.exited = make(chan struct{})
	s.started = true

	go s.readLines(stdout)
	go func() {
		cmd.Wait()
		close(s.exited)
	}()

	if systemPrompt != "" {
		if frame, err := encodeUserFrame(systemPrompt); err == nil {
			_, _ = stdin.Write(append(frame, '\n'))
		}
	}

	return true
}

// readLines feeds scanned stdout lines into the lines channel until EOF or
// process exit. The exit check keeps the goroutine from blocking forever on
// a full channel once nothing is draining it.
func (s *ClaudeSession) readLines(stdout io.Reader) {
	defer close(s.lines)

	scanner := bufio.NewScanner(stdout)
	// Tool results can produce very long JSON lines.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		case <-s.exited:
			return
		}
	}
}

// Send writes one user frame to the process. Errors are swallowed: a dead
// session is caught by the next Alive check.
func (s *ClaudeSession) Send(text string) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()

	if stdin == nil {
		return
	}

	frame, err := encodeUserFrame(text)
	if err != nil {
		return
	}
	frame = append(frame, '\n')
	_, _ = stdin.Write(frame)
}

// Receive drains stream events until the result frame, the idle grace after
// first content, or the overall timeout. The deadline resets on every frame
// so a steadily-working backend is never cut off mid-turn.
func (s *ClaudeSession) Receive(timeout time.Duration) (string, error) {
	s.mu.Lock()
	lines := s.lines
	started := s.started
	s.mu.Unlock()

	if !started || lines == nil {
		return "", newError(ErrSpawn, "claude", "session not started")
	}

	deadline := time.Now().Add(timeout)
	var accumulated []string

	for {
		if time.Now().After(deadline) {
			return "", newError(ErrTimeout, "claude", "turn exceeded %s", timeout)
		}

		select {
		case line, ok := <-lines:
			if !ok {
				// Process exited mid-turn.
				if len(accumulated) > 0 {
					return strings.Join(accumulated, "\n"), nil
				}
				return "", newError(ErrIO, "claude", "process exited before completing the turn")
			}

			result, done := s.consumeFrame(line, &accumulated)
			if done {
				return result, nil
			}
			deadline = time.Now().Add(timeout)

		case <-time.After(claudeIdleGrace):
			if len(accumulated) > 0 {
				return strings.Join(accumulated, "\n"), nil
			}
		}
	}
}

// consumeFrame parses one stream-json line, emitting activity along the way.
// Returns done=true with the final text when the turn is complete.
func (s *ClaudeSession) consumeFrame(line string, accumulated *[]string) (string, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return "", false
	}

	switch raw["type"] {
	case "assistant":
		msg, _ := raw["message"].(map[string]interface{})
		content, _ := msg["content"].([]interface{})
		for _, item := range content {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				text, _ := block["text"].(string)
				if text != "" {
					*accumulated = append(*accumulated, text)
					s.notify(ActivityStream, text+"\n")
				}
			case "thinking":
				if thought, _ := block["thinking"].(string); thought != "" {
					s.notify(ActivityThinking, thought)
				}
			case "tool_use":
				s.notify(ActivityTool, describeToolUse(block))
			}
		}
	case "result":
		if result, _ := raw["result"].(string); result != "" {
			return result, true
		}
		return strings.Join(*accumulated, "\n"), true
	}

	return "", false
}

// describeToolUse formats a tool_use block as a short human-readable action.
func describeToolUse(block map[string]interface{}) string {
	name, _ := block["name"].(string)
	if name == "" {
		return "tool"
	}
	input, _ := block["input"].(map[string]interface{})

	detail := ""
	switch name {
	case "Read", "Edit", "Write":
		detail, _ = input["file_path"].(string)
		detail = filepath.Base(detail)
	case "Bash":
		detail, _ = input["command"].(string)
		if len(detail) > 50 {
			detail = detail[:47] + "..."
		}
	case "Glob", "Grep":
		detail, _ = input["pattern"].(string)
	}

	if detail == "" {
		return name
	}
	return name + ": " + detail
}

// Stop closes stdin and terminates the process, escalating to a kill after
// the bounded grace period.
func (s *ClaudeSession) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	exited := s.exited
	s.started = false
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	if stdin != nil {
		_ = stdin.Close()
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
	}
}

// Alive reports whether the process is still running.
func (s *ClaudeSession) Alive() bool {
	s.mu.Lock()
	started := s.started
	exited := s.exited
	s.mu.Unlock()

	if !started || exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// SupportsMultiTurn reports that the streaming session keeps state across turns.
func (s *ClaudeSession) SupportsMultiTurn() bool { return true }

// SessionID returns empty: this variant has no external resume handle.
func (s *ClaudeSession) SessionID() string { return "" }

// claudeConfigDir returns the isolated config dir for an account.
func claudeConfigDir(account string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if account == "" {
		return filepath.Join(home, ".claude")
	}
	return filepath.Join(home, ".chad", "claude-configs", account)
}

// Verify ClaudeSession implements Session at compile time.
var _ Session = (*ClaudeSession)(nil)
