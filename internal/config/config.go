// Package config handles configuration loading for the Chad engine.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/chadhq/chad/internal/registry"
)

// Config holds all engine configuration.
type Config struct {
	Accounts     AccountsConfig     `mapstructure:"accounts"`
	Verification VerificationConfig `mapstructure:"verification"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Output       OutputConfig       `mapstructure:"output"`
}

// AccountsConfig locates the account registry file.
type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

// VerificationConfig controls the verify/revise cycle.
type VerificationConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxAttempts int  `mapstructure:"max_attempts"`
}

// UsageConfig seeds the usage probe.
type UsageConfig struct {
	// SwitchThreshold is the used-percentage above which a proactive
	// account switch is considered. 100 disables switching.
	SwitchThreshold int `mapstructure:"switch_threshold"`
	// ContextSwitchThreshold is the context-usage percentage above which
	// a context handoff is considered.
	ContextSwitchThreshold int `mapstructure:"context_switch_threshold"`
	// FallbackOrder is the account chain consulted on exhaustion.
	FallbackOrder []string `mapstructure:"fallback_order"`
	// Remaining holds per-account remaining-capacity estimates in [0,1].
	Remaining map[string]float64 `mapstructure:"remaining"`
}

// TimeoutsConfig bounds backend and check execution.
type TimeoutsConfig struct {
	Turn  time.Duration `mapstructure:"turn"`
	Check time.Duration `mapstructure:"check"`
}

// RelayConfig sizes the live-output relay.
type RelayConfig struct {
	Buffer     int `mapstructure:"buffer"`
	MaxDisplay int `mapstructure:"max_display"`
}

// OutputConfig controls what backend output is surfaced.
type OutputConfig struct {
	ShowThinking bool `mapstructure:"show_thinking"`
}

// Load loads configuration with the following precedence (highest first):
// environment variables (CHAD_*), project config (.chad.yaml in the
// current directory or a parent), user config
// (~/.config/chad/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CHAD")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Accounts.Path = os.ExpandEnv(cfg.Accounts.Path)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Accounts.Path = os.ExpandEnv(cfg.Accounts.Path)
	return cfg, nil
}

// Default returns a Config with built-in defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return &Config{}
	}
	cfg.Accounts.Path = os.ExpandEnv(cfg.Accounts.Path)
	return cfg
}

// ProbeConfig converts the usage section into probe seed values.
func (c *Config) ProbeConfig() registry.ProbeConfig {
	return registry.ProbeConfig{
		Remaining:        c.Usage.Remaining,
		UsageThreshold:   c.Usage.SwitchThreshold,
		ContextThreshold: c.Usage.ContextSwitchThreshold,
		FallbackOrder:    c.Usage.FallbackOrder,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config path if one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("accounts.path", filepath.Join(home, ".chad", "accounts.yaml"))

	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.max_attempts", 3)

	v.SetDefault("usage.switch_threshold", 100)
	v.SetDefault("usage.context_switch_threshold", 100)
	v.SetDefault("usage.fallback_order", []string{})

	v.SetDefault("timeouts.turn", "30m")
	v.SetDefault("timeouts.check", "2m")

	v.SetDefault("relay.buffer", 256)
	v.SetDefault("relay.max_display", 256*1024)

	v.SetDefault("output.show_thinking", false)
}

// getUserConfigDir returns the XDG config directory for Chad.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chad")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "chad")
	}
	return filepath.Join(home, ".config", "chad")
}

// findProjectConfig searches for .chad.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".chad.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
