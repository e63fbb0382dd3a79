package models

// BackendConfig is the immutable value handed to the provider factory to
// build one provider session. It is derived from an Account at the moment a
// task (or handoff) starts; later registry edits do not affect it.
type BackendConfig struct {
	// Kind selects the provider session variant.
	Kind BackendKind
	// ModelName is the model to request, empty or "default" for the CLI default.
	ModelName string
	// AccountName identifies the account whose isolated credentials to use.
	AccountName string
	// ReasoningEffort is the reasoning level, empty or "default" to omit.
	ReasoningEffort string
}

// ConfigForAccount builds a BackendConfig snapshot from an account.
func ConfigForAccount(a Account) BackendConfig {
	return BackendConfig{
		Kind:            a.Backend,
		ModelName:       a.Model,
		AccountName:     a.Name,
		ReasoningEffort: a.ReasoningEffort,
	}
}
