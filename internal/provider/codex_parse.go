package provider

import (
	"strings"
)

// codexMetadataPrefixes are lines the codex CLI prints before and after the
// model's actual output.
var codexMetadataPrefixes = []string{
	"workdir:",
	"model:",
	"provider:",
	"approval:",
	"sandbox:",
	"reasoning effort:",
	"reasoning summaries:",
	"session id:",
	"mcp startup:",
	"tokens used",
}

type codexSection struct {
	kind string // "thinking" or "response"
	body string
}

// parseCodexOutput strips the banner, metadata, and exec blocks from raw
// codex exec output, keeping only the thinking and codex sections. Thinking
// is compacted into a single summary line; response formatting is preserved.
// If nothing recognizable is found the raw output is returned as-is.
func parseCodexOutput(raw string) string {
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	var sections []codexSection
	var current []string
	inThinking := false
	inResponse := false
	inExec := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		kind := "thinking"
		if inResponse {
			kind = "response"
		}
		sections = append(sections, codexSection{kind: kind, body: strings.Join(current, "\n")})
		current = nil
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(line, "OpenAI Codex") || strings.HasPrefix(line, "--------") {
			continue
		}
		if hasAnyPrefix(stripped, codexMetadataPrefixes) {
			continue
		}
		if isTokenCount(stripped) {
			continue
		}
		if stripped == "user" {
			continue
		}

		if strings.HasPrefix(stripped, "exec") {
			if inThinking {
				flush()
			}
			inExec = true
			inThinking = false
			continue
		}
		if inExec {
			if stripped != "thinking" && stripped != "codex" {
				continue
			}
			inExec = false
		}

		switch stripped {
		case "thinking":
			flush()
			inThinking = true
			inResponse = false
			continue
		case "codex":
			flush()
			inThinking = false
			inResponse = true
			continue
		}

		if inThinking {
			if stripped != "" {
				current = append(current, stripped)
			}
		} else if inResponse {
			current = append(current, strings.TrimRight(line, " \t"))
		}
	}
	flush()

	return formatCodexSections(sections, raw)
}

func formatCodexSections(sections []codexSection, raw string) string {
	var thoughts []string
	var responses []string
	for _, sec := range sections {
		if sec.kind == "thinking" {
			compact := strings.TrimSpace(strings.ReplaceAll(sec.body, "\n", " "))
			if compact != "" {
				thoughts = append(thoughts, compact)
			}
		} else {
			responses = append(responses, sec.body)
		}
	}

	var formatted []string
	if len(thoughts) > 0 {
		if len(thoughts) > 5 {
			thoughts = thoughts[len(thoughts)-5:]
		}
		formatted = append(formatted, "*Thinking: "+strings.Join(thoughts, " -> ")+"*")
	}
	for _, body := range responses {
		cleaned := collapseBlankLines(body)
		if strings.TrimSpace(cleaned) != "" {
			formatted = append(formatted, strings.TrimSpace(cleaned))
		}
	}

	if len(formatted) == 0 {
		return raw
	}
	return strings.Join(formatted, "\n\n")
}

// collapseBlankLines removes runs of consecutive blank lines, keeping one.
func collapseBlankLines(body string) string {
	lines := strings.Split(body, "\n")
	var kept []string
	for i, line := range lines {
		if strings.TrimSpace(line) != "" || (i > 0 && strings.TrimSpace(lines[i-1]) != "") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// isTokenCount reports whether a line is a bare token count like "4,481".
func isTokenCount(s string) bool {
	if s == "" || len(s) > 10 {
		return false
	}
	digits := strings.ReplaceAll(s, ",", "")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
