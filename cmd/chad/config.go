package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chadhq/chad/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Displays the effective configuration after merging defaults, the
user config (~/.config/chad/config.yaml), the project config (.chad.yaml),
and CHAD_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Printf("accounts.path: %s\n", cfg.Accounts.Path)
		fmt.Printf("verification.enabled: %t\n", cfg.Verification.Enabled)
		fmt.Printf("verification.max_attempts: %d\n", cfg.Verification.MaxAttempts)
		fmt.Printf("usage.switch_threshold: %d\n", cfg.Usage.SwitchThreshold)
		fmt.Printf("usage.context_switch_threshold: %d\n", cfg.Usage.ContextSwitchThreshold)
		fmt.Printf("usage.fallback_order: %s\n", strings.Join(cfg.Usage.FallbackOrder, ", "))
		fmt.Printf("timeouts.turn: %s\n", cfg.Timeouts.Turn)
		fmt.Printf("timeouts.check: %s\n", cfg.Timeouts.Check)
		fmt.Printf("relay.buffer: %d\n", cfg.Relay.Buffer)
		fmt.Printf("relay.max_display: %d\n", cfg.Relay.MaxDisplay)
		fmt.Printf("output.show_thinking: %t\n", cfg.Output.ShowThinking)

		fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
		if project := config.GetProjectConfigPath(); project != "" {
			fmt.Printf("project config: %s\n", project)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
