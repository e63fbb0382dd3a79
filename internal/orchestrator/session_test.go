package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/pkg/models"
)

const completedReply = "Done.\n```json\n{\"change_summary\": \"Fixed the bug\", \"files_changed\": [\"main.go\"], \"completion_status\": \"success\"}\n```"

type scriptedTurn struct {
	text string
	err  error
}

// fakeSession is a scripted provider session. When its turns run out it
// blocks until Stop, which models a hanging backend.
type fakeSession struct {
	mu      sync.Mutex
	turns   []scriptedTurn
	sent    []string
	started bool
	stopped bool
	startOK bool
	stopCh  chan struct{}
}

func newFakeSession(turns ...scriptedTurn) *fakeSession {
	return &fakeSession{turns: turns, startOK: true, stopCh: make(chan struct{})}
}

func (f *fakeSession) Start(workingDir, systemPrompt string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = f.startOK
	return f.startOK
}

func (f *fakeSession) Send(text string) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
}

func (f *fakeSession) Receive(timeout time.Duration) (string, error) {
	f.mu.Lock()
	if len(f.turns) == 0 {
		f.mu.Unlock()
		<-f.stopCh
		return "", &provider.Error{Kind: provider.ErrIO, Message: "session stopped"}
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	f.mu.Unlock()
	return turn.text, turn.err
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.stopCh)
	}
	f.started = false
}

func (f *fakeSession) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeSession) SupportsMultiTurn() bool { return true }
func (f *fakeSession) SessionID() string       { return "" }

func (f *fakeSession) SetActivityFunc(fn provider.ActivityFunc) {}

func (f *fakeSession) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeFactory hands out sessions keyed by account name.
type fakeFactory struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	built    []string
}

func (f *fakeFactory) Build(cfg models.BackendConfig) (provider.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, cfg.AccountName)
	session, ok := f.sessions[cfg.AccountName]
	if !ok {
		return nil, fmt.Errorf("no scripted session for %q", cfg.AccountName)
	}
	return session, nil
}

type fakeVerdict struct {
	verdict models.Verdict
	message string
}

type fakeVerifier struct {
	mu       sync.Mutex
	verdicts []fakeVerdict
	calls    int
	// delay holds each Verify call open, modelling a slow judge turn.
	delay time.Duration
}

func (f *fakeVerifier) Verify(workingDir, codingOutput, task string, cfg models.BackendConfig) (models.Verdict, string) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.verdicts) == 0 {
		return models.VerdictPassed, "looks good"
	}
	v := f.verdicts[0]
	f.verdicts = f.verdicts[1:]
	return v.verdict, v.message
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSwitcher scripts handoff decisions.
type fakeSwitcher struct {
	proactiveNext string
	reactiveTo    *fakeSession
	reactiveAcct  models.Account
	reactiveErr   error
}

func (f *fakeSwitcher) IsQuotaExhaustion(text string) bool {
	return strings.Contains(strings.ToLower(text), "rate limit") ||
		strings.Contains(strings.ToLower(text), "quota")
}

func (f *fakeSwitcher) QuotaReason(text string) string { return "rate_limit" }

func (f *fakeSwitcher) ProactiveSwitch(current string) (string, bool) {
	if f.proactiveNext != "" && f.proactiveNext != current {
		return f.proactiveNext, true
	}
	return "", false
}

func (f *fakeSwitcher) ReactiveSwitch(failed provider.Session, current, workingDir string) (provider.Session, models.Account, error) {
	if failed != nil {
		failed.Stop()
	}
	if f.reactiveErr != nil {
		return nil, models.Account{}, f.reactiveErr
	}
	f.reactiveTo.Start(workingDir, "")
	return f.reactiveTo, f.reactiveAcct, nil
}

type fakeAccounts map[string]models.Account

func (f fakeAccounts) Get(name string) (models.Account, bool) {
	a, ok := f[name]
	return a, ok
}

type fakeWorkspace struct {
	dir string
}

func (f *fakeWorkspace) Acquire(sessionID string) (string, error) {
	if f.dir == "" {
		return "", errors.New("no workspace available")
	}
	return f.dir, nil
}

func (f *fakeWorkspace) Release(sessionID string, force bool) error { return nil }

type harness struct {
	factory  *fakeFactory
	verifier *fakeVerifier
	switcher *fakeSwitcher
	accounts fakeAccounts
	orch     *Orchestrator
}

func newHarness(t *testing.T, cfg Config, sessions map[string]*fakeSession) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{sessions: sessions},
		verifier: &fakeVerifier{},
		switcher: &fakeSwitcher{},
		accounts: fakeAccounts{
			"primary": {Name: "primary", Backend: models.BackendClaude},
			"backup":  {Name: "backup", Backend: models.BackendCodex},
			"judge":   {Name: "judge", Backend: models.BackendGemini},
		},
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = time.Second
	}
	h.orch = New(Deps{
		Factory:   h.factory,
		Verifier:  h.verifier,
		Handoff:   h.switcher,
		Accounts:  h.accounts,
		Workspace: &fakeWorkspace{dir: t.TempDir()},
	}, cfg)
	return h
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("State() = %q, want %q", s.State(), want)
}

func waitInactive(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Snapshot().Active {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("session still active")
}

func TestVerificationDisabledCompletesWithoutAttempts(t *testing.T) {
	h := newHarness(t, Config{VerifyEnabled: false}, map[string]*fakeSession{
		"primary": newFakeSession(scriptedTurn{text: completedReply}),
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	if h.verifier.callCount() != 0 {
		t.Errorf("verifier called %d times, want 0", h.verifier.callCount())
	}
	if got := len(s.Snapshot().VerificationLog); got != 0 {
		t.Errorf("verification log length = %d, want 0", got)
	}
}

func TestFailedVerificationRevisesThenPasses(t *testing.T) {
	coding := newFakeSession(
		scriptedTurn{text: completedReply},
		scriptedTurn{text: completedReply},
	)
	h := newHarness(t, Config{VerifyEnabled: true, MaxVerificationAttempts: 3}, map[string]*fakeSession{
		"primary": coding,
	})
	h.verifier.verdicts = []fakeVerdict{
		{models.VerdictFailed, "tests do not cover the new branch"},
		{models.VerdictPassed, "all good now"},
	}

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	log := s.Snapshot().VerificationLog
	if len(log) != 2 {
		t.Fatalf("verification log length = %d, want 2", len(log))
	}
	if log[0].Verdict != models.VerdictFailed || log[1].Verdict != models.VerdictPassed {
		t.Errorf("verdicts = %q, %q", log[0].Verdict, log[1].Verdict)
	}

	sent := coding.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("coding session got %d messages, want 2", len(sent))
	}
	if !strings.Contains(sent[1], "tests do not cover the new branch") {
		t.Errorf("revision prompt missing feedback: %q", sent[1])
	}
}

func TestVerificationErrorIsTerminal(t *testing.T) {
	h := newHarness(t, Config{VerifyEnabled: true, MaxVerificationAttempts: 5}, map[string]*fakeSession{
		"primary": newFakeSession(scriptedTurn{text: completedReply}),
	})
	h.verifier.verdicts = []fakeVerdict{
		{models.VerdictError, "verification error: judge produced no parseable verdict"},
	}

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateFailed)

	if got := h.verifier.callCount(); got != 1 {
		t.Errorf("verifier called %d times, want 1 (errors are not retried)", got)
	}
	if got := len(s.Snapshot().VerificationLog); got != 1 {
		t.Errorf("verification log length = %d, want 1", got)
	}
}

func TestProactiveSwitchHappensBeforeCoding(t *testing.T) {
	primary := newFakeSession()
	backup := newFakeSession(scriptedTurn{text: completedReply})
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": primary,
		"backup":  backup,
	})
	h.switcher.proactiveNext = "backup"

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	snap := s.Snapshot()
	if snap.SwitchedFrom != "primary" {
		t.Errorf("SwitchedFrom = %q, want %q", snap.SwitchedFrom, "primary")
	}
	if snap.CodingAccount != "backup" {
		t.Errorf("CodingAccount = %q, want %q", snap.CodingAccount, "backup")
	}
	if len(primary.sentMessages()) != 0 {
		t.Errorf("primary session received %d messages, want 0", len(primary.sentMessages()))
	}
	if got := h.factory.built; len(got) != 1 || got[0] != "backup" {
		t.Errorf("factory built %v, want [backup]", got)
	}
}

func TestReactiveSwitchPreservesTaskVerbatim(t *testing.T) {
	task := "implement exactly this: 100% of the €dge-cases"
	primary := newFakeSession(scriptedTurn{text: "", err: &provider.Error{
		Kind: provider.ErrQuota, Backend: "claude", Message: "rate limit exceeded",
	}})
	backup := newFakeSession(scriptedTurn{text: completedReply})
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": primary,
	})
	h.switcher.reactiveTo = backup
	h.switcher.reactiveAcct = models.Account{Name: "backup", Backend: models.BackendCodex}

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start(task); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	snap := s.Snapshot()
	if snap.SwitchedFrom != "primary" {
		t.Errorf("SwitchedFrom = %q, want %q", snap.SwitchedFrom, "primary")
	}
	if snap.TaskDescription != task {
		t.Errorf("task mutated across handoff: %q", snap.TaskDescription)
	}

	sent := backup.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("backup got %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], task) {
		t.Errorf("resume prompt does not carry the task verbatim: %q", sent[0])
	}
	if !primary.stopped {
		t.Error("failed session was not stopped")
	}
}

func TestQuotaOnFallbackFailsInsteadOfLooping(t *testing.T) {
	primary := newFakeSession(scriptedTurn{text: "rate limit exceeded"})
	backup := newFakeSession(scriptedTurn{text: "quota exceeded for today"})
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": primary,
	})
	h.switcher.reactiveTo = backup
	h.switcher.reactiveAcct = models.Account{Name: "backup", Backend: models.BackendCodex}

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateFailed)
}

func TestCancelDuringVerificationEndsCancelled(t *testing.T) {
	coding := newFakeSession(scriptedTurn{text: completedReply})
	h := newHarness(t, Config{VerifyEnabled: true, MaxVerificationAttempts: 3}, map[string]*fakeSession{
		"primary": coding,
	})
	h.verifier.delay = 300 * time.Millisecond

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitState(t, s, StateVerifying)
	s.Cancel()
	waitInactive(t, s)

	if got := s.State(); got != StateCancelled {
		t.Errorf("state after cancel during verification = %q, want %q", got, StateCancelled)
	}
	if !coding.stopped {
		t.Error("provider session was not stopped on cancel")
	}
}

func TestCancelMidTaskThenRestart(t *testing.T) {
	// No scripted turns: Receive blocks until Stop.
	blocking := newFakeSession()
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": blocking,
		"backup":  newFakeSession(scriptedTurn{text: completedReply}),
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("long running task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Let the worker reach the receive before cancelling.
	time.Sleep(20 * time.Millisecond)
	s.Cancel()
	waitState(t, s, StateCancelled)
	waitInactive(t, s)

	if !blocking.stopped {
		t.Error("provider session was not stopped on cancel")
	}

	// The same session must accept a brand-new task afterward.
	s.codingAccount = "backup"
	if err := s.Start("second task"); err != nil {
		t.Fatalf("Start() after cancel error: %v", err)
	}
	waitState(t, s, StateCompleted)
}

func TestStartRejectsSecondTaskInFlight(t *testing.T) {
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": newFakeSession(),
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("first"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Cancel()

	if err := s.Start("second"); err == nil {
		t.Error("Start() while in flight should fail")
	}
}

func TestBusyAccountRefusedAcrossSessions(t *testing.T) {
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": newFakeSession(),
	})

	first := h.orch.NewSession("/tmp/a", "primary", "judge")
	if err := first.Start("task one"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer first.Cancel()

	second := h.orch.NewSession("/tmp/b", "primary", "judge")
	if err := second.Start("task two"); err == nil {
		t.Error("second session claimed a busy account")
	}
}

func TestContinuationAfterProgressCheckpoint(t *testing.T) {
	checkpoint := `{"type": "progress", "summary": "found the bug", "location": "main.go:10", "next_step": "fix it"}`
	coding := newFakeSession(
		scriptedTurn{text: checkpoint},
		scriptedTurn{text: completedReply},
	)
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": coding,
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	sent := coding.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("coding session got %d messages, want 2", len(sent))
	}
	if !strings.Contains(sent[1], "did not complete the task") {
		t.Errorf("second message is not a continuation prompt: %q", sent[1])
	}
}

func TestFollowupAfterCompletion(t *testing.T) {
	coding := newFakeSession(
		scriptedTurn{text: completedReply},
		scriptedTurn{text: "Sure, the fix is in main.go."},
	)
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": coding,
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	if err := s.SendFollowup("where is the fix?"); err != nil {
		t.Fatalf("SendFollowup() error: %v", err)
	}
	waitState(t, s, StateCompleted)
	waitInactive(t, s)

	history := s.Snapshot().ChatHistory
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Text, "main.go") {
		t.Errorf("unexpected last history entry: %+v", last)
	}
}

func TestShutdownStopsProviderAndFreesAccount(t *testing.T) {
	coding := newFakeSession(scriptedTurn{text: completedReply})
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": coding,
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateCompleted)

	s.Shutdown()
	if !coding.stopped {
		t.Error("provider session still running after Shutdown")
	}

	// The freed account can be claimed by a new session.
	other := h.orch.NewSession("/tmp/other", "primary", "judge")
	if err := other.Start("another task"); err != nil {
		t.Errorf("Start() on freed account error: %v", err)
	}
	other.Cancel()
}

func TestFollowupRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": newFakeSession(),
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("long task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Cancel()

	if err := s.SendFollowup("status?"); err == nil {
		t.Error("SendFollowup() should be rejected while a task is in flight")
	}
}

func TestStartFailureFromProvider(t *testing.T) {
	broken := newFakeSession()
	broken.startOK = false
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": broken,
	})

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateFailed)
}

func TestWorkspaceFailureFails(t *testing.T) {
	h := newHarness(t, Config{}, map[string]*fakeSession{
		"primary": newFakeSession(),
	})
	h.orch.deps.Workspace = &fakeWorkspace{}

	s := h.orch.NewSession("/tmp/project", "primary", "judge")
	if err := s.Start("fix the bug"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitState(t, s, StateFailed)
}

func TestAttemptsClamp(t *testing.T) {
	cases := []struct {
		configured int
		want       int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{7, 7},
		{20, 20},
		{50, 20},
	}
	for _, tc := range cases {
		cfg := Config{MaxVerificationAttempts: tc.configured}
		if got := cfg.Attempts(); got != tc.want {
			t.Errorf("Attempts(%d) = %d, want %d", tc.configured, got, tc.want)
		}
	}
}
