package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if !cfg.Verification.Enabled {
		t.Error("verification should be enabled by default")
	}
	if cfg.Verification.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Verification.MaxAttempts)
	}
	if cfg.Usage.SwitchThreshold != 100 {
		t.Errorf("SwitchThreshold = %d, want 100 (disabled)", cfg.Usage.SwitchThreshold)
	}
	if cfg.Timeouts.Turn != 30*time.Minute {
		t.Errorf("Turn timeout = %v, want 30m", cfg.Timeouts.Turn)
	}
	if cfg.Relay.MaxDisplay != 256*1024 {
		t.Errorf("MaxDisplay = %d, want 262144", cfg.Relay.MaxDisplay)
	}
	if cfg.Accounts.Path == "" {
		t.Error("accounts path should have a default")
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
verification:
  enabled: false
  max_attempts: 5
usage:
  switch_threshold: 80
  fallback_order:
    - work
    - personal
  remaining:
    work: 0.25
timeouts:
  turn: 10m
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}

	if cfg.Verification.Enabled {
		t.Error("verification should be disabled")
	}
	if cfg.Verification.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Verification.MaxAttempts)
	}
	if cfg.Usage.SwitchThreshold != 80 {
		t.Errorf("SwitchThreshold = %d, want 80", cfg.Usage.SwitchThreshold)
	}
	if len(cfg.Usage.FallbackOrder) != 2 || cfg.Usage.FallbackOrder[0] != "work" {
		t.Errorf("FallbackOrder = %v", cfg.Usage.FallbackOrder)
	}
	if cfg.Usage.Remaining["work"] != 0.25 {
		t.Errorf("Remaining[work] = %v, want 0.25", cfg.Usage.Remaining["work"])
	}
	if cfg.Timeouts.Turn != 10*time.Minute {
		t.Errorf("Turn timeout = %v, want 10m", cfg.Timeouts.Turn)
	}
	// Untouched sections keep their defaults.
	if cfg.Timeouts.Check != 2*time.Minute {
		t.Errorf("Check timeout = %v, want 2m", cfg.Timeouts.Check)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFromPath() should fail for a missing file")
	}
}

func TestProbeConfig(t *testing.T) {
	cfg := Default()
	cfg.Usage.SwitchThreshold = 90
	cfg.Usage.FallbackOrder = []string{"a", "b"}
	cfg.Usage.Remaining = map[string]float64{"a": 0.05}

	pc := cfg.ProbeConfig()
	if pc.UsageThreshold != 90 {
		t.Errorf("UsageThreshold = %d, want 90", pc.UsageThreshold)
	}
	if len(pc.FallbackOrder) != 2 {
		t.Errorf("FallbackOrder = %v", pc.FallbackOrder)
	}
	if pc.Remaining["a"] != 0.05 {
		t.Errorf("Remaining[a] = %v, want 0.05", pc.Remaining["a"])
	}
}

func TestAccountsPathExpandsEnv(t *testing.T) {
	t.Setenv("CHAD_TEST_DIR", "/opt/chad")
	path := writeConfig(t, `
accounts:
  path: ${CHAD_TEST_DIR}/accounts.yaml
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Accounts.Path != "/opt/chad/accounts.yaml" {
		t.Errorf("Accounts.Path = %q", cfg.Accounts.Path)
	}
}
