package orchestrator

import (
	"strings"
	"testing"
)

func TestCodingPromptCarriesTask(t *testing.T) {
	task := "rename the frobnicate endpoint"
	prompt := codingPrompt(task)
	if !strings.Contains(prompt, task) {
		t.Errorf("prompt does not contain the task: %q", prompt)
	}
	if !strings.Contains(prompt, "change_summary") {
		t.Error("prompt does not request the JSON summary block")
	}
}

func TestNeedsContinuation(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  bool
	}{
		{"empty", "", false},
		{"plain text", "I fixed the bug in main.go", false},
		{
			"progress only",
			`{"type": "progress", "summary": "reading code", "next_step": "edit"}`,
			true,
		},
		{
			"markdown progress markers",
			"**Progress:** found it\n**Next:** fix it",
			true,
		},
		{
			"progress plus completion",
			`{"type": "progress", "summary": "x"}` + "\n" + `{"change_summary": "done"}`,
			false,
		},
		{
			"completion only",
			`{"change_summary": "done", "files_changed": ["a.go"]}`,
			false,
		},
	}
	for _, tc := range cases {
		if got := needsContinuation(tc.reply); got != tc.want {
			t.Errorf("%s: needsContinuation() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExtractCompletion(t *testing.T) {
	reply := "All done.\n```json\n{\"change_summary\": \"Added retry logic\", \"files_changed\": [\"client.go\", \"client_test.go\"], \"completion_status\": \"success\"}\n```"
	summary := extractCompletion(reply)
	if summary.ChangeSummary != "Added retry logic" {
		t.Errorf("ChangeSummary = %q", summary.ChangeSummary)
	}
	if len(summary.FilesChanged) != 2 || summary.FilesChanged[0] != "client.go" {
		t.Errorf("FilesChanged = %v", summary.FilesChanged)
	}
}

func TestExtractCompletionInfoOnly(t *testing.T) {
	reply := "```json\n{\"change_summary\": \"No changes needed\", \"files_changed\": \"info_only\", \"completion_status\": \"success\"}\n```"
	summary := extractCompletion(reply)
	if summary.ChangeSummary != "No changes needed" {
		t.Errorf("ChangeSummary = %q", summary.ChangeSummary)
	}
	if len(summary.FilesChanged) != 0 {
		t.Errorf("FilesChanged = %v, want empty", summary.FilesChanged)
	}
}

func TestExtractCompletionPrefersLastBlock(t *testing.T) {
	reply := "```json\n{\"type\": \"progress\", \"summary\": \"starting\"}\n```\nwork...\n```json\n{\"change_summary\": \"Fixed\", \"files_changed\": [], \"completion_status\": \"success\"}\n```"
	if got := extractCompletion(reply).ChangeSummary; got != "Fixed" {
		t.Errorf("ChangeSummary = %q, want %q", got, "Fixed")
	}
}

func TestExtractCompletionMissing(t *testing.T) {
	if got := extractCompletion("no json here"); got.ChangeSummary != "" {
		t.Errorf("ChangeSummary = %q, want empty", got.ChangeSummary)
	}
}
