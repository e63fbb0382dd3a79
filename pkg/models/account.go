// Package models defines the shared data types for the Chad orchestration engine.
package models

// BackendKind identifies which vendor CLI a provider session wraps.
type BackendKind string

const (
	// BackendClaude is the bidirectional streaming backend (one long-lived
	// process speaking newline-delimited JSON on stdin/stdout).
	BackendClaude BackendKind = "claude"
	// BackendCodex is the stateless exec-per-turn backend (a fresh process
	// per message, prompt on stdin).
	BackendCodex BackendKind = "codex"
	// BackendGemini is the one-shot synchronous backend (a single blocking
	// invocation per message).
	BackendGemini BackendKind = "gemini"
)

// Valid returns true if the kind is a known value.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendClaude, BackendCodex, BackendGemini:
		return true
	default:
		return false
	}
}

// Role describes what an account is assigned to do.
type Role string

const (
	// RoleCoding marks the account used for the coding phase.
	RoleCoding Role = "coding"
	// RoleVerification marks the account used for independent verification.
	RoleVerification Role = "verification"
	// RoleNone marks an account with no assignment.
	RoleNone Role = ""
)

// Account is a registry-owned backend account. The engine reads and updates
// the named fields but never owns the credential material behind them.
type Account struct {
	// Name is the unique account identifier.
	Name string `json:"name" yaml:"name"`
	// Backend is the vendor CLI this account authenticates against.
	Backend BackendKind `json:"backend" yaml:"backend"`
	// Model is the model override, empty for the CLI default.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// ReasoningEffort is the reasoning level override (e.g. "low", "high").
	ReasoningEffort string `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	// Role is the account's current assignment.
	Role Role `json:"role,omitempty" yaml:"role,omitempty"`
}
