package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chadhq/chad/internal/exec"
)

// Check is one automated verification command.
type Check struct {
	Name    string
	Command string
}

// maxIssuesPerCheck caps how many failure lines one check contributes.
const maxIssuesPerCheck = 5

// DetectChecks picks lint/test commands from the project's build files.
// Unknown project layouts yield no checks, which is a pass.
func DetectChecks(runner exec.CommandRunner, workDir string) []Check {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var checks []Check
	if runner.Exists(ctx, workDir, "go.mod") {
		checks = append(checks,
			Check{Name: "gofmt", Command: "test -z \"$(gofmt -l .)\""},
			Check{Name: "go vet", Command: "go vet ./..."},
		)
	}
	if runner.Exists(ctx, workDir, "package.json") {
		checks = append(checks, Check{Name: "npm lint", Command: "npm run --if-present -s lint"})
	}
	if runner.Exists(ctx, workDir, "pyproject.toml") || runner.Exists(ctx, workDir, "setup.py") {
		checks = append(checks, Check{Name: "flake8", Command: "flake8 ."})
	}
	return checks
}

// runChecks executes each check; a timeout or runner error counts as a
// pass (the coding agent gets the benefit of the doubt), a clean failure
// aggregates its output into feedback.
func runChecks(runner exec.CommandRunner, workDir string, checks []Check, timeout time.Duration) (bool, string) {
	var failures []string
	for _, check := range checks {
		out, timedOut, err := exec.RunWithTimeout(runner, workDir, check.Command, timeout)
		if timedOut {
			continue
		}
		if err == nil {
			continue
		}
		text := string(out)
		// A missing tool is the environment's fault, not the coding agent's.
		if strings.Contains(text, "command not found") || strings.Contains(text, "not found") {
			continue
		}
		lines := nonEmptyLines(text, maxIssuesPerCheck)
		if len(lines) == 0 {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s errors:\n- %s", check.Name, strings.Join(lines, "\n- ")))
	}

	if len(failures) == 0 {
		return true, ""
	}
	return false, "Verification failed:\n" + strings.Join(failures, "\n\n")
}

func nonEmptyLines(s string, limit int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == limit {
			break
		}
	}
	return lines
}
