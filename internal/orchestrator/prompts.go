package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codingPromptBody instructs the coding backend to emit an early progress
// checkpoint and to finish with a machine-readable JSON summary. The
// summary block is what verification and handoff mine for context.
const codingPromptBody = `## URGENT: PROGRESS UPDATE REQUIRED

STOP! Before doing anything else, you MUST:
1. Spend AT MOST 30 seconds reading 1-2 key files
2. IMMEDIATELY output a progress update in this exact JSON format:
` + "```json" + `
{"type": "progress", "summary": "Brief description of what you found", "location": "file:line", "next_step": "What you will do next"}
` + "```" + `

This progress update tells the user you are working. Output it NOW, within 30 seconds of starting.

---

# Task

%s

---

## After your progress update, continue with:

3. Write test(s) that should fail until the fix/feature is implemented
4. Make the changes, adjusting tests as needed. If no changes are required, skip to step 6.
5. Run verification commands (lint and tests) and fix ALL failures.
6. End your response with a JSON summary:
` + "```json" + `
{
  "change_summary": "One sentence describing what was changed",
  "files_changed": ["src/auth.go", "src/auth_test.go"],
  "completion_status": "success"
}
` + "```" + `
Fields: change_summary (required), files_changed (required, or "info_only"), completion_status (success/partial/blocked/error), hypothesis (optional, for bugs)`

// continuationPrompt re-invokes a backend that checkpointed progress but
// exited before completing. Exec-per-turn backends terminate on any
// output, so an early progress update ends the process.
const continuationPrompt = `Your previous response ended with a progress update but you did not complete the task. Continue from where you left off:

1. Write test(s) that should fail until the fix/feature is implemented
2. Make the changes, adjusting tests as needed
3. Run verification commands (lint and tests)
4. Fix ALL failures and retest if required
5. End with a JSON summary block:
` + "```json" + `
{
  "change_summary": "One sentence describing what was changed",
  "files_changed": ["src/file.go", "src/file_test.go"],
  "completion_status": "success"
}
` + "```" + `

Do NOT output another progress update - continue directly with implementation.`

// codingPrompt builds the initial coding-phase prompt for a task.
func codingPrompt(task string) string {
	return fmt.Sprintf(codingPromptBody, task)
}

// revisionPrompt wraps verification feedback for the coding backend.
func revisionPrompt(feedback string) string {
	return `An independent reviewer examined your work and found problems:

` + feedback + `

Address every issue listed above. Re-run lint and tests after your fixes, then end with the JSON summary block (change_summary, files_changed, completion_status).`
}

// progressMarkers indicate the backend intended to continue working.
var progressMarkers = []string{`"type": "progress"`, `"type":"progress"`, "**Progress:**", "**Location:**", "**Next:**"}

// completionMarkers come from the JSON summary block of a finished task.
var completionMarkers = []string{`"change_summary"`, `"completion_status"`, `"files_changed"`}

// needsContinuation reports whether a coding reply looks like an
// incomplete checkpoint: progress markers without a completion summary.
func needsContinuation(reply string) bool {
	if reply == "" {
		return false
	}
	hasProgress := false
	for _, m := range progressMarkers {
		if strings.Contains(reply, m) {
			hasProgress = true
			break
		}
	}
	if !hasProgress {
		return false
	}
	for _, m := range completionMarkers {
		if strings.Contains(reply, m) {
			return false
		}
	}
	return true
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// completionSummary is the JSON block a finished coding turn ends with.
type completionSummary struct {
	ChangeSummary    string   `json:"change_summary"`
	FilesChanged     fileList `json:"files_changed"`
	CompletionStatus string   `json:"completion_status"`
}

// fileList tolerates both the array form and the "info_only" string form
// of files_changed.
type fileList []string

func (f *fileList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = nil
		return nil
	}
	return fmt.Errorf("files_changed: unsupported shape")
}

// extractCompletion pulls the trailing summary block out of a coding
// reply. Returns the zero value when no parseable block is present.
func extractCompletion(reply string) completionSummary {
	matches := fencedBlockRe.FindAllStringSubmatch(reply, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		var summary completionSummary
		if err := json.Unmarshal([]byte(matches[i][1]), &summary); err != nil {
			continue
		}
		if summary.ChangeSummary != "" {
			return summary
		}
	}
	return completionSummary{}
}
