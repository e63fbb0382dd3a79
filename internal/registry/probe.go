package registry

import "sync"

// Probe is the deterministic, file-configured usage estimator. Remaining
// capacity per account is a fraction in [0,1]; thresholds are percentages
// where 100 disables switching.
type Probe struct {
	mu               sync.RWMutex
	remaining        map[string]float64
	usageThreshold   int
	contextThreshold int
	fallbackOrder    []string
}

// ProbeConfig seeds a Probe.
type ProbeConfig struct {
	Remaining        map[string]float64
	UsageThreshold   int
	ContextThreshold int
	FallbackOrder    []string
}

// NewProbe creates a probe. Missing thresholds default to 100 (disabled).
func NewProbe(cfg ProbeConfig) *Probe {
	p := &Probe{
		remaining:        make(map[string]float64),
		usageThreshold:   cfg.UsageThreshold,
		contextThreshold: cfg.ContextThreshold,
		fallbackOrder:    append([]string(nil), cfg.FallbackOrder...),
	}
	for name, v := range cfg.Remaining {
		p.remaining[name] = clamp01(v)
	}
	if p.usageThreshold <= 0 {
		p.usageThreshold = 100
	}
	if p.contextThreshold <= 0 {
		p.contextThreshold = 100
	}
	return p
}

// Remaining returns the account's estimated remaining capacity, defaulting
// to fully available for unknown accounts.
func (p *Probe) Remaining(account string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.remaining[account]; ok {
		return v
	}
	return 1.0
}

// SetRemaining records a new estimate for an account.
func (p *Probe) SetRemaining(account string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remaining[account] = clamp01(v)
}

// UsageSwitchThreshold returns the used-percentage above which a proactive
// switch is considered. 100 disables switching.
func (p *Probe) UsageSwitchThreshold() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usageThreshold
}

// ContextSwitchThreshold returns the context-usage percentage above which
// a context handoff is considered. 100 disables it.
func (p *Probe) ContextSwitchThreshold() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contextThreshold
}

// FallbackOrder returns the configured account fallback chain.
func (p *Probe) FallbackOrder() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.fallbackOrder...)
}

// NextFallback returns the account after current in the fallback order.
// When current is not in the order, the first entry is returned.
func (p *Probe) NextFallback(current string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.fallbackOrder) == 0 {
		return "", false
	}
	for i, name := range p.fallbackOrder {
		if name == current {
			if i+1 < len(p.fallbackOrder) {
				return p.fallbackOrder[i+1], true
			}
			return "", false
		}
	}
	return p.fallbackOrder[0], true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
