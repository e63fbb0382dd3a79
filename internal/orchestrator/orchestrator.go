package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadhq/chad/internal/eventlog"
	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/internal/relay"
	"github.com/chadhq/chad/internal/workspace"
	"github.com/chadhq/chad/pkg/models"
)

// SessionFactory builds provider sessions; satisfied by *provider.Factory.
type SessionFactory interface {
	Build(cfg models.BackendConfig) (provider.Session, error)
}

// Verifier judges coding output against the task; satisfied by
// *verify.Controller.
type Verifier interface {
	Verify(workingDir, codingOutput, task string, cfg models.BackendConfig) (models.Verdict, string)
}

// Switcher performs quota classification and account switching; satisfied
// by *handoff.Controller.
type Switcher interface {
	IsQuotaExhaustion(text string) bool
	QuotaReason(text string) string
	ProactiveSwitch(current string) (string, bool)
	ReactiveSwitch(failed provider.Session, current, workingDir string) (provider.Session, models.Account, error)
}

// AccountLookup resolves account names; satisfied by *registry.Registry.
type AccountLookup interface {
	Get(name string) (models.Account, bool)
}

// Config holds the engine settings an orchestrator applies to every
// session it creates.
type Config struct {
	// VerifyEnabled turns independent verification on.
	VerifyEnabled bool
	// MaxVerificationAttempts bounds the verify/revise cycle. Clamped to
	// [1, 20].
	MaxVerificationAttempts int
	// TurnTimeout bounds each backend turn.
	TurnTimeout time.Duration
	// PollInterval is the cancellation poll cadence while a turn is in
	// flight.
	PollInterval time.Duration
}

// maxAttemptsCeiling is the hard upper bound on verification attempts.
const maxAttemptsCeiling = 20

// Attempts returns the configured attempt bound clamped to the valid range.
func (c Config) Attempts() int {
	if c.MaxVerificationAttempts < 1 {
		return 1
	}
	if c.MaxVerificationAttempts > maxAttemptsCeiling {
		return maxAttemptsCeiling
	}
	return c.MaxVerificationAttempts
}

// Deps are the collaborators an orchestrator composes. Factory, Handoff,
// Accounts, and Workspace are required; Verifier is required when
// verification is enabled; Log, Relay, and Logger may be nil.
type Deps struct {
	Factory   SessionFactory
	Verifier  Verifier
	Handoff   Switcher
	Accounts  AccountLookup
	Workspace workspace.Provider
	Log       *eventlog.Store
	Relay     *relay.Relay
	Logger    *DebugLogger
}

// Orchestrator creates and supervises Sessions. It owns the only mutable
// state shared across Sessions: the record of which accounts are busy.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu   sync.Mutex
	busy map[string]string // account name -> session id holding it
}

// New wires an orchestrator. Config zero values get working defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.MaxVerificationAttempts == 0 {
		cfg.MaxVerificationAttempts = 3
	}
	if deps.Logger == nil {
		deps.Logger = NopLogger()
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		busy: make(map[string]string),
	}
}

// NewSession creates an idle session bound to a project path and the
// accounts that will do its work. verificationAccount is ignored when
// verification is disabled.
func (o *Orchestrator) NewSession(projectPath, codingAccount, verificationAccount string) *Session {
	return &Session{
		o:                   o,
		id:                  uuid.NewString(),
		projectPath:         projectPath,
		codingAccount:       codingAccount,
		verificationAccount: verificationAccount,
		state:               StateIdle,
	}
}

// claimAccount marks an account busy for a session. Fails when another
// session already holds it.
func (o *Orchestrator) claimAccount(account, sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if holder, taken := o.busy[account]; taken && holder != sessionID {
		return fmt.Errorf("account %q is busy with session %s", account, holder)
	}
	o.busy[account] = sessionID
	return nil
}

// swapAccount moves a session's claim from one account to another after a
// handoff. The new account is claimed even if another session holds it;
// handoff has already committed to it.
func (o *Orchestrator) swapAccount(old, next, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.busy[old] == sessionID {
		delete(o.busy, old)
	}
	o.busy[next] = sessionID
}

// releaseAccount drops a session's claim.
func (o *Orchestrator) releaseAccount(account, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.busy[account] == sessionID {
		delete(o.busy, account)
	}
}
