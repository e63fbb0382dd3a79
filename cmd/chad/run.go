package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chadhq/chad/internal/config"
	"github.com/chadhq/chad/internal/eventlog"
	chadexec "github.com/chadhq/chad/internal/exec"
	"github.com/chadhq/chad/internal/handoff"
	"github.com/chadhq/chad/internal/orchestrator"
	"github.com/chadhq/chad/internal/provider"
	"github.com/chadhq/chad/internal/registry"
	"github.com/chadhq/chad/internal/relay"
	"github.com/chadhq/chad/internal/verify"
	"github.com/chadhq/chad/internal/workspace"
	"github.com/chadhq/chad/pkg/models"
)

var (
	runProject       string
	runAccount       string
	runVerifyAccount string
	runNoVerify      bool
)

var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run a coding task through the engine",
	Long: `Runs one task to completion: delegates it to the coding account's
backend, streams live progress, verifies the result independently, and
hands off to a fallback account on quota exhaustion.

Press Ctrl-C to cancel the task; the session tears down its backend
process and the command exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", ".", "Project directory to work in")
	runCmd.Flags().StringVar(&runAccount, "account", "", "Coding account (default: the account with the coding role)")
	runCmd.Flags().StringVar(&runVerifyAccount, "verify-account", "", "Verification account (default: the account with the verification role)")
	runCmd.Flags().BoolVar(&runNoVerify, "no-verify", false, "Skip independent verification")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := registry.Open(cfg.Accounts.Path)
	if err != nil {
		return fmt.Errorf("open account registry: %w", err)
	}

	codingAccount, err := resolveAccount(reg, runAccount, models.RoleCoding)
	if err != nil {
		return err
	}
	verifyAccount := ""
	verifyEnabled := cfg.Verification.Enabled && !runNoVerify
	if verifyEnabled {
		verifyAccount, err = resolveAccount(reg, runVerifyAccount, models.RoleVerification)
		if err != nil {
			return err
		}
	}

	projectPath, err := filepath.Abs(runProject)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	ws, err := workspace.ForProject(projectPath)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	store, err := eventlog.Open(eventlog.DefaultPath())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer store.Close()

	factory := provider.NewFactory()
	factory.SetShowThinking(cfg.Output.ShowThinking)
	probe := registry.NewProbe(cfg.ProbeConfig())

	verifier := verify.NewController(factory, chadexec.NewRunner())
	verifier.TurnTimeout = cfg.Timeouts.Turn
	verifier.CheckTimeout = cfg.Timeouts.Check

	logger := orchestrator.NewDebugLoggerForHome()
	defer logger.Close()

	rly := relay.New(cfg.Relay.Buffer)
	orch := orchestrator.New(orchestrator.Deps{
		Factory:   factory,
		Verifier:  verifier,
		Handoff:   handoff.NewController(nil, probe, reg, factory),
		Accounts:  reg,
		Workspace: ws,
		Log:       store,
		Relay:     rly,
		Logger:    logger,
	}, orchestrator.Config{
		VerifyEnabled:           verifyEnabled,
		MaxVerificationAttempts: cfg.Verification.MaxAttempts,
		TurnTimeout:             cfg.Timeouts.Turn,
	})

	session := orch.NewSession(projectPath, codingAccount, verifyAccount)
	defer session.Shutdown()

	printer := newEventPrinter()
	consumer := relay.NewConsumer(rly, printer.observe, printer.keepalive, cfg.Relay.MaxDisplay)
	consumer.Render = printer.render

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		consumer.Run(nil)
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		color.Yellow("\ncancelling...")
		session.Cancel()
	}()

	if err := session.Start(task); err != nil {
		rly.Close()
		<-printerDone
		return err
	}

	state := waitTerminal(session)
	rly.Close()
	<-printerDone

	snap := session.Snapshot()
	switch state {
	case orchestrator.StateCompleted:
		color.Green("\n✓ %s", snap.LastWorkDone)
		return nil
	case orchestrator.StateCancelled:
		color.Yellow("\ntask cancelled")
		return nil
	default:
		return fmt.Errorf("task failed")
	}
}

// resolveAccount picks an explicit account name or falls back to the
// account holding the given role.
func resolveAccount(reg *registry.Registry, explicit string, role models.Role) (string, error) {
	if explicit != "" {
		if _, ok := reg.Get(explicit); !ok {
			return "", fmt.Errorf("unknown account %q", explicit)
		}
		return explicit, nil
	}
	for _, a := range reg.List() {
		if a.Role == role {
			return a.Name, nil
		}
	}
	return "", fmt.Errorf("no account has the %s role; assign one with 'chad accounts set-role'", role)
}

func waitTerminal(s *orchestrator.Session) orchestrator.State {
	for {
		switch state := s.State(); state {
		case orchestrator.StateCompleted, orchestrator.StateFailed, orchestrator.StateCancelled:
			if !s.Snapshot().Active {
				return state
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// eventPrinter renders relay events for the terminal and prints what the
// consumer's display buffer gained since the previous flush. Rendering and
// observing both happen on the consumer goroutine, so the byte counters
// need no locking.
type eventPrinter struct {
	activity *color.Color
	status   *color.Color
	speaker  *color.Color

	// rendered counts bytes handed to the consumer; printed counts bytes
	// already written to the terminal.
	rendered int
	printed  int
}

func newEventPrinter() *eventPrinter {
	return &eventPrinter{
		activity: color.New(color.FgYellow),
		status:   color.New(color.FgCyan),
		speaker:  color.New(color.FgGreen, color.Bold),
	}
}

func (p *eventPrinter) render(ev relay.Event) string {
	var out string
	switch ev.Kind {
	case relay.KindStatus:
		out = p.status.Sprintf("· %s\n", ev.Text)
	case relay.KindActivity:
		out = p.activity.Sprintf("  %s\n", ev.Text)
	case relay.KindStream:
		out = ev.DisplayText()
	case relay.KindMessageStart:
		out = p.speaker.Sprintf("\n▶ %s\n", ev.Speaker)
	case relay.KindMessageComplete:
		if text := strings.TrimSpace(ev.DisplayText()); text != "" {
			out = text + "\n"
		}
	}
	p.rendered += len(out)
	return out
}

// observe receives the accumulated display buffer after each flush. Only
// the newly appended tail is printed; bytes lost to front truncation were
// printed before they were dropped, so the accounting stays exact.
func (p *eventPrinter) observe(display string) {
	display = strings.TrimPrefix(display, relay.TruncationNotice)
	fresh := p.rendered - p.printed
	if fresh <= 0 {
		return
	}
	if fresh > len(display) {
		fresh = len(display)
	}
	fmt.Print(display[len(display)-fresh:])
	p.printed = p.rendered
}

func (p *eventPrinter) keepalive(elapsed time.Duration) {
	p.status.Printf("· still working (%s since last output)\n", elapsed.Round(time.Second))
}
