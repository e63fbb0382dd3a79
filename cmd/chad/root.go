package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chad",
	Short: "AI coding-agent orchestration engine",
	Long: `Chad delegates a coding task to one of several interchangeable AI
coding-agent backends, supervises execution to completion, independently
verifies the result against the original task, and automatically recovers
from quota exhaustion by handing off to a fallback account.

Backends are vendor CLIs run as local subprocesses; accounts for them are
managed with 'chad accounts'. Configuration lives at
~/.config/chad/config.yaml with per-project overrides in .chad.yaml.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
