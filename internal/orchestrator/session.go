package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chadhq/chad/internal/eventlog"
	"github.com/chadhq/chad/internal/handoff"
	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/internal/relay"
	"github.com/chadhq/chad/pkg/models"
)

// State is a session's position in the task lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateVerifying State = "verifying"
	StateRevising  State = "revising"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Session is one concurrently-running unit of task execution. It owns at
// most one live provider session at a time; a handoff replaces that
// session wholesale. All work happens on a single worker goroutine, so
// messages within a session are strictly ordered.
type Session struct {
	o  *Orchestrator
	id string

	projectPath         string
	codingAccount       string
	verificationAccount string

	mu              sync.Mutex
	state           State
	active          bool
	cancelRequested bool
	task            string
	workingDir      string
	switchedFrom    string
	lastWorkDone    string
	history         []models.Message
	verificationLog []models.VerificationAttempt
	startedAt       time.Time
	ps              provider.Session
	account         models.Account
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	coding := s.account.Name
	if coding == "" {
		coding = s.codingAccount
	}
	return models.Session{
		ID:              s.id,
		TaskDescription: s.task,
		ProjectPath:     s.projectPath,
		CodingAccount:   coding,
		Active:          s.active,
		CancelRequested: s.cancelRequested,
		ChatHistory:     append([]models.Message(nil), s.history...),
		SwitchedFrom:    s.switchedFrom,
		LastWorkDone:    s.lastWorkDone,
		VerificationLog: append([]models.VerificationAttempt(nil), s.verificationLog...),
		StartedAt:       s.startedAt,
	}
}

// Start begins executing a task on this session's worker goroutine. It
// rejects a second task while one is in flight and refuses to claim a
// coding account another session is already using.
func (s *Session) Start(task string) error {
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("task description is empty")
	}
	account, ok := s.o.deps.Accounts.Get(s.codingAccount)
	if !ok {
		return fmt.Errorf("unknown coding account %q", s.codingAccount)
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return fmt.Errorf("session %s already has a task in flight", s.id)
	}
	stale := s.ps
	staleAccount := s.account.Name
	s.ps = nil
	s.mu.Unlock()

	// A previous task may have left its provider session alive for
	// follow-ups. A new task always starts fresh.
	if stale != nil {
		stale.Stop()
		s.o.releaseAccount(staleAccount, s.id)
	}

	if err := s.o.claimAccount(account.Name, s.id); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = true
	s.cancelRequested = false
	s.task = task
	s.switchedFrom = ""
	s.lastWorkDone = ""
	s.history = nil
	s.verificationLog = nil
	s.startedAt = time.Now()
	s.state = StateRunning
	s.account = account
	s.mu.Unlock()

	go s.run(task, account)
	return nil
}

// Cancel requests cancellation. A running worker observes it at the next
// poll boundary; an idle session with a live provider is torn down here.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelRequested = true
	active := s.active
	ps := s.ps
	accountName := s.account.Name
	s.mu.Unlock()

	if active {
		return
	}
	if ps != nil {
		ps.Stop()
		s.o.releaseAccount(accountName, s.id)
	}
	s.mu.Lock()
	if !s.active {
		s.ps = nil
		s.state = StateCancelled
	}
	s.mu.Unlock()
}

// Shutdown stops any provider left alive for follow-ups and frees the
// account claim. State is unchanged; call when the session will not be
// used again.
func (s *Session) Shutdown() {
	s.mu.Lock()
	ps := s.ps
	accountName := s.account.Name
	s.ps = nil
	s.mu.Unlock()

	if ps != nil {
		ps.Stop()
		s.o.releaseAccount(accountName, s.id)
	}
}

// SendFollowup sends a user message into a completed session whose
// provider is still alive. Rejected while a task is in flight.
func (s *Session) SendFollowup(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("follow-up text is empty")
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return fmt.Errorf("session %s has a task in flight", s.id)
	}
	ps := s.ps
	account := s.account
	if ps == nil || !ps.Alive() {
		s.mu.Unlock()
		return fmt.Errorf("no live session to follow up with")
	}
	s.active = true
	s.cancelRequested = false
	s.state = StateRunning
	s.mu.Unlock()

	go s.runFollowup(ps, account, text)
	return nil
}

// run drives one task to a terminal state.
func (s *Session) run(task string, account models.Account) {
	defer func() {
		if r := recover(); r != nil {
			s.terminal(StateFailed, fmt.Sprintf("internal error: %v", r))
		}

		s.mu.Lock()
		s.active = false
		state := s.state
		ps := s.ps
		accountName := s.account.Name
		if state != StateCompleted {
			s.ps = nil
		}
		s.mu.Unlock()

		// A completed session keeps its provider alive for follow-ups;
		// every other terminal state tears down and frees the account.
		if state != StateCompleted {
			if ps != nil {
				ps.Stop()
			}
			s.o.releaseAccount(accountName, s.id)
		}
	}()

	s.o.deps.Logger.Log("[session %s] task started on %s", s.id, account.Name)
	s.logEvent(eventlog.KindSessionStarted, "", map[string]any{"text": task, "account": account.Name})
	s.logEvent(eventlog.KindUserMessage, "", map[string]any{"text": task})
	s.appendHistory(models.UserMessage(task))
	s.status("task started on " + account.Name)

	workingDir, err := s.o.deps.Workspace.Acquire(s.id)
	if err != nil {
		s.terminal(StateFailed, fmt.Sprintf("workspace: %v", err))
		return
	}
	s.mu.Lock()
	s.workingDir = workingDir
	s.mu.Unlock()

	// Move off a nearly-exhausted account before the first call is made.
	if next, ok := s.o.deps.Handoff.ProactiveSwitch(account.Name); ok {
		if nextAccount, known := s.o.deps.Accounts.Get(next); known {
			s.o.swapAccount(account.Name, nextAccount.Name, s.id)
			s.recordSwitch(account.Name, nextAccount.Name, "usage threshold reached")
			account = nextAccount
			s.mu.Lock()
			s.account = account
			s.mu.Unlock()
		}
	}

	ps, err := s.o.deps.Factory.Build(models.ConfigForAccount(account))
	if err != nil {
		s.terminal(StateFailed, fmt.Sprintf("build %s session: %v", account.Name, err))
		return
	}
	ps.SetActivityFunc(s.activityRelay(account.Name))
	if !ps.Start(workingDir, "") {
		s.terminal(StateFailed, fmt.Sprintf("failed to start a session for account %q", account.Name))
		return
	}
	s.mu.Lock()
	s.ps = ps
	s.mu.Unlock()

	reply, done := s.codingTurn(codingPrompt(task), true)
	if done {
		return
	}

	if needsContinuation(reply) {
		s.status("incomplete checkpoint, requesting continuation")
		more, done := s.codingTurn(continuationPrompt, true)
		if done {
			return
		}
		if more != "" {
			reply = reply + "\n\n---\n\n" + more
		}
	}

	if !s.o.cfg.VerifyEnabled {
		s.terminal(StateCompleted, "task completed (verification disabled)")
		return
	}
	s.verifyLoop(task, reply)
}

// verifyLoop runs the verify/revise cycle until a terminal state.
func (s *Session) verifyLoop(task, reply string) {
	verAccount, ok := s.o.deps.Accounts.Get(s.verificationAccount)
	if !ok {
		s.terminal(StateFailed, fmt.Sprintf("unknown verification account %q", s.verificationAccount))
		return
	}
	verCfg := models.ConfigForAccount(verAccount)
	attempts := s.o.cfg.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if s.cancelPending() {
			s.teardownCancelled()
			return
		}

		s.setState(StateVerifying)
		s.status(fmt.Sprintf("verification attempt %d/%d", attempt, attempts))
		verdict, message := s.o.deps.Verifier.Verify(s.workDir(), reply, task, verCfg)
		s.recordVerification(attempt, verdict, message, verAccount.Name)

		// A cancel issued while the judge was working wins over the verdict.
		if s.cancelPending() {
			s.teardownCancelled()
			return
		}

		switch verdict {
		case models.VerdictPassed, models.VerdictAborted:
			s.terminal(StateCompleted, message)
			return
		case models.VerdictError:
			// A broken judge is not worth retrying blindly.
			s.terminal(StateFailed, message)
			return
		}

		coding := s.currentProvider()
		if attempt == attempts || coding == nil || !coding.Alive() {
			s.terminal(StateFailed, "verification failed: "+message)
			return
		}

		s.setState(StateRevising)
		s.status("revising with verification feedback")
		revised, done := s.codingTurn(revisionPrompt(message), true)
		if done {
			return
		}
		if revised != "" {
			reply = revised
		}
	}
}

// runFollowup handles one post-completion conversational turn.
func (s *Session) runFollowup(ps provider.Session, account models.Account, text string) {
	defer func() {
		s.mu.Lock()
		s.active = false
		if s.state == StateRunning {
			s.state = StateCompleted
		}
		s.mu.Unlock()
	}()

	s.logEvent(eventlog.KindUserMessage, "", map[string]any{"text": text})
	s.appendHistory(models.UserMessage(text))

	s.publish(relay.Event{Kind: relay.KindMessageStart, Speaker: account.Name})
	reply, err, cancelled := s.converse(ps, text)
	if cancelled {
		s.teardownCancelled()
		return
	}
	if err != nil {
		s.status(fmt.Sprintf("follow-up failed: %v", err))
		return
	}
	s.publish(relay.Event{Kind: relay.KindMessageComplete, Speaker: account.Name, Text: reply})
	s.recordAssistant(account.Name, reply)
}

// codingTurn sends one message to the coding provider and waits for the
// reply, recovering from quota exhaustion by switching accounts once.
// Returns done=true when the session reached a terminal state.
func (s *Session) codingTurn(text string, allowSwitch bool) (reply string, done bool) {
	ps := s.currentProvider()
	account := s.currentAccount()

	s.publish(relay.Event{Kind: relay.KindMessageStart, Speaker: account.Name})
	reply, err, cancelled := s.converse(ps, text)
	if cancelled {
		s.teardownCancelled()
		return "", true
	}

	quotaText := ""
	if err != nil {
		if s.o.deps.Handoff.IsQuotaExhaustion(err.Error()) {
			quotaText = err.Error()
		} else {
			s.terminal(StateFailed, fmt.Sprintf("%s: %v", account.Name, err))
			return "", true
		}
	} else if reply != "" && s.o.deps.Handoff.IsQuotaExhaustion(reply) {
		quotaText = reply
	}

	if quotaText != "" {
		if !allowSwitch {
			s.terminal(StateFailed, "quota exhausted on fallback account: "+s.o.deps.Handoff.QuotaReason(quotaText))
			return "", true
		}
		if !s.reactiveSwitch(quotaText) {
			return "", true
		}
		resume := handoff.BuildResumePrompt(s.o.deps.Log, s.id, s.taskDescription())
		return s.codingTurn(resume, false)
	}

	s.publish(relay.Event{Kind: relay.KindMessageComplete, Speaker: account.Name, Text: reply})
	s.recordAssistant(account.Name, reply)
	return reply, false
}

// reactiveSwitch replaces the failed provider with one on the next usable
// fallback account. Returns false after setting a terminal state when no
// fallback is available.
func (s *Session) reactiveSwitch(quotaText string) bool {
	old := s.currentAccount()
	reason := s.o.deps.Handoff.QuotaReason(quotaText)
	s.o.deps.Logger.Log("[session %s] quota exhausted on %s: %s", s.id, old.Name, reason)
	s.status(fmt.Sprintf("quota exhausted on %s (%s), switching accounts", old.Name, reason))

	next, nextAccount, err := s.o.deps.Handoff.ReactiveSwitch(s.currentProvider(), old.Name, s.workDir())
	if err != nil {
		s.terminal(StateFailed, fmt.Sprintf("handoff: %v", err))
		return false
	}
	next.SetActivityFunc(s.activityRelay(nextAccount.Name))

	s.o.swapAccount(old.Name, nextAccount.Name, s.id)
	s.recordSwitch(old.Name, nextAccount.Name, reason)
	s.mu.Lock()
	s.ps = next
	s.account = nextAccount
	s.mu.Unlock()
	return true
}

// converse performs one send/receive round, polling for cancellation
// while the receive is in flight.
func (s *Session) converse(ps provider.Session, text string) (string, error, bool) {
	ps.Send(text)

	type turn struct {
		text string
		err  error
	}
	done := make(chan turn, 1)
	go func() {
		reply, err := ps.Receive(s.o.cfg.TurnTimeout)
		done <- turn{reply, err}
	}()

	ticker := time.NewTicker(s.o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			return r.text, r.err, false
		case <-ticker.C:
			if s.cancelPending() {
				ps.Stop()
				return "", nil, true
			}
		}
	}
}

// terminal moves the session to a terminal state and records it.
func (s *Session) terminal(state State, text string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.o.deps.Logger.Log("[session %s] %s: %s", s.id, state, text)
	s.logEvent(eventlog.KindSessionEnded, "", map[string]any{"text": text, "state": string(state)})
	s.publish(relay.Event{Kind: relay.KindStatus, Text: fmt.Sprintf("%s: %s", state, text)})
}

func (s *Session) teardownCancelled() {
	s.terminal(StateCancelled, "task cancelled")
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) cancelPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *Session) currentProvider() provider.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps
}

func (s *Session) currentAccount() models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Session) workDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

func (s *Session) taskDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

func (s *Session) appendHistory(msg models.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
}

// recordAssistant stores a coding reply in the history, the event log,
// and the last-work summary handoff resumes from.
func (s *Session) recordAssistant(speaker, reply string) {
	s.appendHistory(models.AssistantMessage(speaker, reply))

	summary := extractCompletion(reply)
	work := summary.ChangeSummary
	if work == "" {
		work = reply
		if len(work) > 200 {
			work = work[:200]
		}
	}
	s.mu.Lock()
	s.lastWorkDone = work
	s.mu.Unlock()

	s.logEvent(eventlog.KindAssistantMessage, speaker, map[string]any{"text": reply})
	if len(summary.FilesChanged) > 0 {
		files := make([]any, len(summary.FilesChanged))
		for i, f := range summary.FilesChanged {
			files[i] = f
		}
		s.logEvent(eventlog.KindFilesTouched, speaker, map[string]any{"files": files})
	}
}

// recordSwitch notes a provider handoff in every channel that tracks it.
func (s *Session) recordSwitch(from, to, reason string) {
	s.mu.Lock()
	s.switchedFrom = from
	s.mu.Unlock()

	s.appendHistory(models.SystemMessage(fmt.Sprintf("switched from %s to %s: %s", from, to, reason)))
	s.logEvent(eventlog.KindProviderSwitched, "", map[string]any{"from": from, "to": to, "reason": reason})
	s.status(fmt.Sprintf("switched from %s to %s", from, to))
}

func (s *Session) recordVerification(attempt int, verdict models.Verdict, feedback, account string) {
	entry := models.VerificationAttempt{
		Attempt:  attempt,
		Verdict:  verdict,
		Feedback: feedback,
		Account:  account,
	}
	s.mu.Lock()
	s.verificationLog = append(s.verificationLog, entry)
	s.mu.Unlock()

	s.logEvent(eventlog.KindVerificationAttempt, account, map[string]any{
		"attempt": attempt,
		"verdict": string(verdict),
		"text":    feedback,
	})
}

// activityRelay adapts provider activity callbacks onto the relay.
func (s *Session) activityRelay(speaker string) provider.ActivityFunc {
	return func(kind provider.ActivityKind, detail string) {
		ev := relay.Event{Speaker: speaker, Text: detail}
		if kind == provider.ActivityStream {
			ev.Kind = relay.KindStream
		} else {
			ev.Kind = relay.KindActivity
		}
		s.publish(ev)
	}
}

func (s *Session) status(text string) {
	s.logEvent(eventlog.KindStatus, "", map[string]any{"text": text})
	s.publish(relay.Event{Kind: relay.KindStatus, Text: text})
}

func (s *Session) publish(ev relay.Event) {
	if s.o.deps.Relay != nil {
		s.o.deps.Relay.Publish(ev)
	}
}

func (s *Session) logEvent(kind eventlog.Kind, speaker string, payload map[string]any) {
	if s.o.deps.Log == nil {
		return
	}
	if _, err := s.o.deps.Log.Append(s.id, kind, speaker, payload); err != nil {
		s.o.deps.Logger.Log("[session %s] event log append failed: %v", s.id, err)
	}
}
