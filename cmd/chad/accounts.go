package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chadhq/chad/internal/config"
	"github.com/chadhq/chad/internal/registry"
	"github.com/chadhq/chad/pkg/models"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage backend accounts",
	Long: `Manage the accounts Chad delegates work to.

Each account names a vendor CLI backend (claude, codex, gemini) plus
optional model and reasoning-effort overrides. Roles select which account
does the coding and which performs independent verification.

Accounts are stored at ~/.chad/accounts.yaml; edits from outside this
command are picked up automatically.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}

		accounts := reg.List()
		if len(accounts) == 0 {
			fmt.Println("no accounts configured; add one with 'chad accounts add'")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBACKEND\tMODEL\tREASONING\tROLE")
		for _, a := range accounts {
			model := a.Model
			if model == "" {
				model = "(default)"
			}
			reasoning := a.ReasoningEffort
			if reasoning == "" {
				reasoning = "(default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Name, a.Backend, model, reasoning, a.Role)
		}
		return w.Flush()
	},
}

var (
	addBackend   string
	addModel     string
	addReasoning string
	addRole      string
)

var accountsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		account := models.Account{
			Name:            args[0],
			Backend:         models.BackendKind(addBackend),
			Model:           addModel,
			ReasoningEffort: addReasoning,
			Role:            models.Role(addRole),
		}
		if err := reg.Add(account); err != nil {
			return err
		}
		fmt.Printf("added account %q (%s)\n", account.Name, account.Backend)
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed account %q\n", args[0])
		return nil
	},
}

var accountsSetModelCmd = &cobra.Command{
	Use:   "set-model [name] [model]",
	Short: "Set an account's model override",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		return reg.SetModel(args[0], args[1])
	},
}

var accountsSetReasoningCmd = &cobra.Command{
	Use:   "set-reasoning [name] [effort]",
	Short: "Set an account's reasoning effort",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		return reg.SetReasoning(args[0], args[1])
	},
}

var accountsSetRoleCmd = &cobra.Command{
	Use:   "set-role [name] [coding|verification]",
	Short: "Assign an account's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		role := models.Role(args[1])
		if role != models.RoleCoding && role != models.RoleVerification && role != models.RoleNone {
			return fmt.Errorf("unknown role %q", args[1])
		}
		return reg.SetRole(args[0], role)
	},
}

func openRegistry() (*registry.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.Open(cfg.Accounts.Path)
	if err != nil {
		return nil, fmt.Errorf("open account registry: %w", err)
	}
	return reg, nil
}

func init() {
	accountsAddCmd.Flags().StringVar(&addBackend, "backend", "claude", "Backend kind (claude, codex, gemini)")
	accountsAddCmd.Flags().StringVar(&addModel, "model", "", "Model override")
	accountsAddCmd.Flags().StringVar(&addReasoning, "reasoning", "", "Reasoning effort override")
	accountsAddCmd.Flags().StringVar(&addRole, "role", "", "Role (coding or verification)")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsSetModelCmd)
	accountsCmd.AddCommand(accountsSetReasoningCmd)
	accountsCmd.AddCommand(accountsSetRoleCmd)
	rootCmd.AddCommand(accountsCmd)
}
