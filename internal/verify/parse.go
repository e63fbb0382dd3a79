package verify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// maxPromptChars bounds the coding output embedded in the exploration prompt.
const maxPromptChars = 6000

// providerErrorPatterns indicate the verification backend itself failed,
// which is a failed verification rather than a parse error.
var providerErrorPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?i)Error:\s*.*execution stalled`), "Verification agent stalled (no output)"},
	{regexp.MustCompile(`(?i)Error:\s*.*execution timed out`), "Verification agent timed out"},
	{regexp.MustCompile(`(?i)Failed to run.*command not found`), "Verification agent CLI not installed"},
	{regexp.MustCompile(`(?i)No response from`), "Verification agent returned no response"},
	{regexp.MustCompile(`(?i)Failed to run.*:`), "Verification agent execution error"},
}

var (
	thinkingPrefixRe = regexp.MustCompile(`(?s)^\s*\*+[Tt]hinking:.*?\*+\s*`)
	fencedJSONRe     = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	changeSummaryRe  = regexp.MustCompile("(?s)```json\\s*(\\{[^`]*\"change_summary\"[^`]*\\})\\s*```")
)

// verdictPayload is the JSON object the conclusion prompt demands.
type verdictPayload struct {
	Passed  *bool    `json:"passed"`
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
}

// parseError marks a malformed judgement reply, retried by the controller.
type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// parseVerdict extracts the judge's verdict from a raw reply. A provider
// failure pattern yields (false, message, nil-error); a malformed reply
// yields a *parseError.
func parseVerdict(response string) (passed bool, summary string, issues []string, err error) {
	for _, pat := range providerErrorPatterns {
		if pat.re.MatchString(response) {
			trimmed := strings.TrimSpace(response)
			if len(trimmed) > 500 {
				trimmed = trimmed[:500]
			}
			return false, pat.message, []string{trimmed}, nil
		}
	}

	cleaned := thinkingPrefixRe.ReplaceAllString(response, "")
	candidates := collectJSONCandidates(cleaned)
	if len(candidates) == 0 {
		return false, "", nil, &parseError{fmt.Sprintf("no JSON found in response: %s", head(response, 200))}
	}

	// Prefer candidates that carry the required field.
	sort.SliceStable(candidates, func(i, j int) bool {
		return strings.Contains(candidates[i], `"passed"`) && !strings.Contains(candidates[j], `"passed"`)
	})

	var lastParseErr error
	missingPassed := false
	for _, candidate := range candidates {
		var payload verdictPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			lastParseErr = err
			continue
		}
		if payload.Passed == nil {
			missingPassed = true
			continue
		}
		return *payload.Passed, payload.Summary, payload.Issues, nil
	}

	if missingPassed {
		return false, "", nil, &parseError{"missing required field 'passed' in JSON response"}
	}
	if lastParseErr != nil {
		return false, "", nil, &parseError{fmt.Sprintf("invalid JSON: %v", lastParseErr)}
	}
	return false, "", nil, &parseError{fmt.Sprintf("no valid JSON found in response: %s", head(response, 200))}
}

// collectJSONCandidates gathers fenced JSON blocks and balanced top-level
// objects, deduplicated in discovery order.
func collectJSONCandidates(text string) []string {
	var candidates []string
	seen := make(map[string]struct{})

	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}

	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, obj := range balancedObjects(text) {
		add(obj)
	}
	return candidates
}

// balancedObjects scans for top-level brace-balanced objects, respecting
// string literals and escapes.
func balancedObjects(text string) []string {
	var objects []string
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, ch := range text {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, text[start:i+1])
				start = -1
			}
		}
	}
	return objects
}

// extractChangeSummary pulls the one-line change summary from the coding
// agent's completion JSON block, if present.
func extractChangeSummary(codingOutput string) string {
	m := changeSummaryRe.FindStringSubmatch(codingOutput)
	if m == nil {
		return ""
	}
	var payload struct {
		ChangeSummary string `json:"change_summary"`
	}
	if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
		return ""
	}
	return payload.ChangeSummary
}

var verificationMentionedRes = []*regexp.Regexp{
	regexp.MustCompile(`golangci-lint`),
	regexp.MustCompile(`go vet`),
	regexp.MustCompile(`flake8`),
	regexp.MustCompile(`pytest`),
	regexp.MustCompile(`verification.*passed`),
	regexp.MustCompile(`all tests pass`),
	regexp.MustCompile(`linting.*pass`),
	regexp.MustCompile(`\d+ passed`),
}

// verificationMentioned reports whether the coding agent already claims to
// have run checks, which makes re-running them redundant.
func verificationMentioned(codingOutput string) bool {
	lower := strings.ToLower(codingOutput)
	for _, re := range verificationMentionedRes {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// truncateOutput compacts long coding output for the exploration prompt,
// keeping the head and tail with an elision marker between.
func truncateOutput(text string, limit int) string {
	cleaned := strings.TrimSpace(text)
	if len(cleaned) <= limit {
		return cleaned
	}

	indicator := fmt.Sprintf("...[truncated %d chars]...", len(cleaned)-limit)
	keep := limit - len(indicator) - 4
	if keep < 0 {
		keep = 0
	}
	headLen := keep * 6 / 10
	tailLen := keep - headLen

	headPart := strings.TrimRight(cleaned[:headLen], " \t\n")
	var parts []string
	if headPart != "" {
		parts = append(parts, headPart)
	}
	parts = append(parts, indicator)
	if tailLen > 0 {
		tailPart := strings.TrimLeft(cleaned[len(cleaned)-tailLen:], " \t\n")
		if tailPart != "" {
			parts = append(parts, tailPart)
		}
	}
	return strings.Join(parts, "\n\n")
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
