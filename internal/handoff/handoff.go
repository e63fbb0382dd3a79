// Package handoff keeps a task moving when its backend account runs dry:
// it classifies quota-exhaustion failures, switches to fallback accounts
// proactively or reactively, and rebuilds enough context for the new
// backend to pick up where the old one stopped.
package handoff

import (
	"fmt"
	"strings"

	"github.com/chadhq/chad/internal/eventlog"
	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/pkg/models"
)

// maxResumeChars bounds the resume prompt. The task description is always
// carried verbatim; the progress summary absorbs the truncation.
const maxResumeChars = 4000

// UsageProbe estimates remaining capacity and supplies the fallback chain.
type UsageProbe interface {
	Remaining(account string) float64
	UsageSwitchThreshold() int
	NextFallback(current string) (string, bool)
}

// AccountLookup resolves account names to their configuration.
type AccountLookup interface {
	Get(name string) (models.Account, bool)
}

// SessionFactory builds provider sessions; satisfied by *provider.Factory.
type SessionFactory interface {
	Build(cfg models.BackendConfig) (provider.Session, error)
}

// Controller performs proactive and reactive account switching.
type Controller struct {
	classifier Classifier
	probe      UsageProbe
	accounts   AccountLookup
	factory    SessionFactory
}

// NewController wires a handoff controller. classifier may be nil, in
// which case the default regex classifier is used.
func NewController(classifier Classifier, probe UsageProbe, accounts AccountLookup, factory SessionFactory) *Controller {
	if classifier == nil {
		classifier = RegexClassifier{}
	}
	return &Controller{
		classifier: classifier,
		probe:      probe,
		accounts:   accounts,
		factory:    factory,
	}
}

// IsQuotaExhaustion exposes the classifier's verdict on error text.
func (c *Controller) IsQuotaExhaustion(text string) bool {
	return c.classifier.IsQuotaExhaustion(text)
}

// QuotaReason exposes the classifier's category for logging.
func (c *Controller) QuotaReason(text string) string {
	return c.classifier.QuotaReason(text)
}

// ProactiveSwitch decides before a coding call whether to move off the
// current account. It walks the fallback chain and never selects a
// fallback that is itself past the threshold. threshold 100 disables
// switching entirely.
func (c *Controller) ProactiveSwitch(current string) (string, bool) {
	threshold := c.probe.UsageSwitchThreshold()
	if threshold >= 100 {
		return "", false
	}
	if usedPercent(c.probe.Remaining(current)) < float64(threshold) {
		return "", false
	}

	// Walk the chain, skipping exhausted fallbacks and guarding against
	// cycles in the configured order.
	seen := map[string]struct{}{current: {}}
	candidate := current
	for {
		next, ok := c.probe.NextFallback(candidate)
		if !ok {
			return "", false
		}
		if _, cycled := seen[next]; cycled {
			return "", false
		}
		seen[next] = struct{}{}

		if _, known := c.accounts.Get(next); !known {
			candidate = next
			continue
		}
		if usedPercent(c.probe.Remaining(next)) < float64(threshold) {
			return next, true
		}
		candidate = next
	}
}

// ReactiveSwitch handles a quota-exhausted coding session: it stops the
// failed session and brings up a started session on the next usable
// fallback account in the same working directory. The caller reissues the
// pending work as a resume prompt.
func (c *Controller) ReactiveSwitch(failed provider.Session, current, workingDir string) (provider.Session, models.Account, error) {
	if failed != nil {
		failed.Stop()
	}

	seen := map[string]struct{}{current: {}}
	candidate := current
	for {
		next, ok := c.probe.NextFallback(candidate)
		if !ok {
			return nil, models.Account{}, fmt.Errorf("no fallback account available after %q", current)
		}
		if _, cycled := seen[next]; cycled {
			return nil, models.Account{}, fmt.Errorf("fallback order cycles without a usable account")
		}
		seen[next] = struct{}{}

		account, known := c.accounts.Get(next)
		if !known {
			candidate = next
			continue
		}

		session, err := c.factory.Build(models.ConfigForAccount(account))
		if err != nil {
			return nil, models.Account{}, fmt.Errorf("build fallback session: %w", err)
		}
		if !session.Start(workingDir, "") {
			candidate = next
			continue
		}
		return session, account, nil
	}
}

// BuildResumePrompt reconstructs context for a freshly attached backend
// from the event log: the verbatim task, the last assistant turn, and the
// files touched so far. Bounded, never the raw transcript.
func BuildResumePrompt(store *eventlog.Store, sessionID, task string) string {
	var lastWork string
	var files []string
	if store != nil {
		if text, ok, err := store.LastAssistantText(sessionID); err == nil && ok {
			lastWork = text
		}
		if touched, err := store.FilesTouched(sessionID); err == nil {
			files = touched
		}
	}
	return composeResumePrompt(task, lastWork, files)
}

func composeResumePrompt(task, lastWork string, files []string) string {
	var fixed strings.Builder
	fixed.WriteString("<previous_session>\n")
	fixed.WriteString("## Original Task\n")
	fixed.WriteString(task)
	fixed.WriteString("\n")

	var filesBlock strings.Builder
	if len(files) > 0 {
		filesBlock.WriteString("\n## Files Modified\n")
		for _, f := range files {
			filesBlock.WriteString("- `" + f + "`\n")
		}
	}

	const footer = "</previous_session>\n\nContinue the task from where the previous session left off."

	// The summary absorbs whatever budget remains after the verbatim
	// task, the file list, and the markers.
	budget := maxResumeChars - fixed.Len() - filesBlock.Len() - len(footer) - 64
	var workBlock string
	if lastWork != "" && budget > 0 {
		trimmed := strings.TrimSpace(lastWork)
		if len(trimmed) > budget {
			trimmed = trimmed[:budget] + "..."
		}
		workBlock = "\n## Last Progress\n" + trimmed + "\n"
	}

	return fixed.String() + workBlock + filesBlock.String() + footer
}

func usedPercent(remaining float64) float64 {
	return (1.0 - remaining) * 100.0
}
