package models

import "time"

// Verdict is the outcome of one verification attempt.
type Verdict string

const (
	// VerdictPassed means the work satisfies the task.
	VerdictPassed Verdict = "passed"
	// VerdictFailed means the work does not satisfy the task; feedback is
	// available for a revision round.
	VerdictFailed Verdict = "failed"
	// VerdictError means verification itself broke (e.g. the judge never
	// produced parseable output). Errors are terminal: they are not retried.
	VerdictError Verdict = "error"
	// VerdictAborted means verification was skipped for missing inputs.
	VerdictAborted Verdict = "aborted"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPassed, VerdictFailed, VerdictError, VerdictAborted:
		return true
	default:
		return false
	}
}

// VerificationAttempt records one verification round.
type VerificationAttempt struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Verdict is the outcome of this attempt.
	Verdict Verdict `json:"verdict"`
	// Feedback is the judge's summary, plus issues when the verdict is failed.
	Feedback string `json:"feedback,omitempty"`
	// Account is the account that performed the verification.
	Account string `json:"account"`
}

// Session is the execution context for one concurrently-running unit of
// work. It is created on task start, mutated only by its own orchestrator,
// and reset on explicit discard.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// TaskDescription is the original task. Immutable once a task starts;
	// it survives every handoff verbatim.
	TaskDescription string `json:"task_description"`
	// ProjectPath is the isolated working directory for this session.
	ProjectPath string `json:"project_path"`
	// CodingAccount is the account currently doing the coding work.
	CodingAccount string `json:"coding_account"`
	// Active reports whether a task is currently in flight.
	Active bool `json:"active"`
	// CancelRequested is set once cancellation is requested; it is never
	// cleared within an attempt.
	CancelRequested bool `json:"cancel_requested"`
	// ChatHistory is the ordered conversation so far.
	ChatHistory []Message `json:"chat_history,omitempty"`
	// SwitchedFrom names the account a handoff moved away from, if any.
	SwitchedFrom string `json:"switched_from,omitempty"`
	// LastWorkDone summarizes the most recent assistant turn.
	LastWorkDone string `json:"last_work_done,omitempty"`
	// VerificationLog records each verification attempt in order.
	VerificationLog []VerificationAttempt `json:"verification_log,omitempty"`
	// StartedAt is when the current task began.
	StartedAt time.Time `json:"started_at"`
}
