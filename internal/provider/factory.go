package provider

import (
	"fmt"

	"github.com/chadhq/chad/pkg/models"
)

// Builder constructs a Session for one backend kind.
type Builder func(cfg models.BackendConfig) Session

// Factory maps backend kinds to session constructors. Construction is the
// only error path; launch failures surface later through Start.
type Factory struct {
	builders     map[models.BackendKind]Builder
	showThinking bool
}

// NewFactory returns a factory with the built-in backends registered.
func NewFactory() *Factory {
	f := &Factory{builders: make(map[models.BackendKind]Builder), showThinking: true}
	f.Register(models.BackendClaude, func(cfg models.BackendConfig) Session { return NewClaudeSession(cfg) })
	f.Register(models.BackendCodex, func(cfg models.BackendConfig) Session {
		s := NewCodexSession(cfg)
		s.showThinking = f.showThinking
		return s
	})
	f.Register(models.BackendGemini, func(cfg models.BackendConfig) Session { return NewGeminiSession(cfg) })
	return f
}

// SetShowThinking controls whether sessions built afterward surface the
// backend's thinking summaries in their output.
func (f *Factory) SetShowThinking(v bool) {
	f.showThinking = v
}

// Register adds or replaces the builder for a backend kind.
func (f *Factory) Register(kind models.BackendKind, b Builder) {
	f.builders[kind] = b
}

// Build constructs an unstarted session for cfg. It fails only when the
// backend kind has no registered builder.
func (f *Factory) Build(cfg models.BackendConfig) (Session, error) {
	b, ok := f.builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
	return b(cfg), nil
}
