// Package verify judges whether a coding agent's work actually satisfies
// the task. It combines automated checks with a two-phase review by an
// independent verification backend, and never lets a failure escape its
// own boundary.
package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/chadhq/chad/internal/exec"
	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/pkg/models"
)

// maxParseAttempts bounds how many judgement replies we try to parse.
const maxParseAttempts = 2

// SessionFactory builds provider sessions; satisfied by *provider.Factory.
type SessionFactory interface {
	Build(cfg models.BackendConfig) (provider.Session, error)
}

// Controller runs one verification pass per call. Safe to reuse across
// attempts; it holds no per-task state.
type Controller struct {
	factory SessionFactory
	runner  exec.CommandRunner

	// TurnTimeout bounds each judge turn.
	TurnTimeout time.Duration
	// CheckTimeout bounds each automated check command.
	CheckTimeout time.Duration
	// Checks overrides automatic check detection when non-nil.
	Checks []Check
	// Activity receives judge progress; may be nil.
	Activity provider.ActivityFunc
}

// NewController creates a verification controller with default timeouts.
func NewController(factory SessionFactory, runner exec.CommandRunner) *Controller {
	return &Controller{
		factory:      factory,
		runner:       runner,
		TurnTimeout:  30 * time.Minute,
		CheckTimeout: 2 * time.Minute,
	}
}

// Verify checks codingOutput against the task in workingDir using the
// given verification account. It returns a verdict and a human-readable
// message; it never panics and never raises past this boundary.
func (c *Controller) Verify(workingDir, codingOutput, task string, cfg models.BackendConfig) (models.Verdict, string) {
	if strings.TrimSpace(task) == "" {
		return models.VerdictAborted, "verification aborted: missing task description"
	}
	if strings.TrimSpace(codingOutput) == "" {
		return models.VerdictAborted, "verification aborted: coding agent output was empty"
	}

	// Re-running checks the coding agent already ran is wasted work.
	if !verificationMentioned(codingOutput) {
		checks := c.Checks
		if checks == nil {
			checks = DetectChecks(c.runner, workingDir)
		}
		if len(checks) > 0 {
			c.say("running automated checks")
			if ok, feedback := runChecks(c.runner, workingDir, checks, c.CheckTimeout); !ok {
				return models.VerdictFailed, feedback
			}
		}
	}

	return c.judge(workingDir, codingOutput, task, cfg)
}

// judge runs the two-phase LLM review with bounded parse retries.
func (c *Controller) judge(workingDir, codingOutput, task string, cfg models.BackendConfig) (models.Verdict, string) {
	exploration := buildExplorationPrompt(
		task,
		truncateOutput(codingOutput, maxPromptChars),
		extractChangeSummary(codingOutput),
	)
	conclusion := conclusionPrompt

	var lastErr string
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		verdict, message, retryable := c.judgeOnce(workingDir, exploration, conclusion, cfg)
		if !retryable {
			return verdict, message
		}
		lastErr = message
		conclusion = retryPreamble + conclusionPrompt
	}

	if lastErr == "" {
		lastErr = "unknown verification parse error"
	}
	return models.VerdictError, fmt.Sprintf("verification error: %s", lastErr)
}

// judgeOnce runs one explore+conclude round. retryable is true only for
// malformed judgement replies.
func (c *Controller) judgeOnce(workingDir, exploration, conclusion string, cfg models.BackendConfig) (models.Verdict, string, bool) {
	session, err := c.factory.Build(cfg)
	if err != nil {
		return models.VerdictError, fmt.Sprintf("verification error: %v", err), false
	}
	defer session.Stop()

	if c.Activity != nil {
		session.SetActivityFunc(c.Activity)
	}

	if !session.Start(workingDir, "") {
		// A judge that cannot launch should not block the task.
		return models.VerdictPassed, "verification skipped: failed to start session", false
	}

	c.say("exploring the changes")
	session.Send(exploration)
	if _, err := session.Receive(c.TurnTimeout); err != nil {
		return models.VerdictError, fmt.Sprintf("verification error: %v", err), false
	}

	c.say("requesting verdict")
	session.Send(conclusion)
	response, err := session.Receive(c.TurnTimeout)
	if err != nil {
		return models.VerdictError, fmt.Sprintf("verification error: %v", err), false
	}
	if strings.TrimSpace(response) == "" {
		return models.VerdictError, "no response from verification agent", true
	}

	passed, summary, issues, parseErr := parseVerdict(response)
	if parseErr != nil {
		return models.VerdictError, parseErr.Error(), true
	}
	if passed {
		return models.VerdictPassed, summary, false
	}

	feedback := summary
	if len(issues) > 0 {
		feedback += "\n\nIssues:\n- " + strings.Join(issues, "\n- ")
	}
	return models.VerdictFailed, feedback, false
}

func (c *Controller) say(detail string) {
	if c.Activity != nil {
		c.Activity(provider.ActivityText, detail)
	}
}
