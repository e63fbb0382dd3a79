package verify

import "fmt"

// explorationPrompt is phase 1: the judge explores the codebase freely.
const explorationPrompt = `You are a code review agent verifying that another agent completed a coding task correctly.

IMPORTANT RULE: DO NOT modify or create any files in this codebase. Your only job is to verify the work.

## Task that was assigned:
---
%s
---

## Coding agent's output:
---
%s
---

Please verify the work by:
1. Using Read, Glob, and Grep tools to check that what was actually modified on disk matches the coding agent's output
2. Checking that the coding agent's changes on disk address everything the user asked for
3. Checking that the coding agent's changes on disk do not include unnecessary changes
4. Reviewing the changes for correctness and completeness

If the coding agent already ran tests and they passed, you do NOT need to re-run them. Trust the coding agent's test
output unless you have specific concerns about the implementation.

Explore the codebase and provide your analysis. After you're done exploring, I'll ask you for your final verdict.
`

// conclusionPrompt is phase 2: the judge must answer in strict JSON.
const conclusionPrompt = `Based on your analysis, provide your final verdict.

You MUST respond with ONLY valid JSON and nothing else:
` + "```json" + `
{
  "passed": true,
  "summary": "Brief explanation of what was checked and why it looks correct"
}
` + "```" + `
Or if issues were found:

` + "```json" + `
{
  "passed": false,
  "summary": "Brief summary of what needs to be fixed",
  "issues": [
    "First issue that needs to be addressed",
    "Second issue that needs to be addressed"
  ]
}
` + "```" + `
Output ONLY the JSON block, no other text.
`

// retryPreamble sharpens the conclusion prompt after a parse failure.
const retryPreamble = "Your previous response was not valid JSON. " +
	"You MUST respond with ONLY a JSON object like:\n" +
	"```json\n{\"passed\": true, \"summary\": \"explanation\"}\n```\n\n" +
	"Try again.\n\n"

// buildExplorationPrompt assembles phase 1 with the truncated coding output
// and an optional change summary line.
func buildExplorationPrompt(task, codingOutput, changeSummary string) string {
	block := codingOutput
	if changeSummary != "" {
		block = fmt.Sprintf("Summary from coding agent: %s\n\nFull response:\n%s", changeSummary, codingOutput)
	}
	if task == "" {
		task = "(no task provided)"
	}
	return fmt.Sprintf(explorationPrompt, task, block)
}
