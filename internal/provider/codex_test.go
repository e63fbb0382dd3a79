package provider

import (
	"reflect"
	"testing"
	"time"

	"github.com/chadhq/chad/pkg/models"
)

func TestCodexBuildArgsFreshTurn(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{
		Kind:      models.BackendCodex,
		ModelName: "gpt-5",
	})
	s.workingDir = "/tmp/project"

	want := []string{"exec", "--full-auto", "--skip-git-repo-check", "-C", "/tmp/project", "-m", "gpt-5", "-"}
	if got := s.buildArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestCodexBuildArgsDefaultModelOmitted(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{
		Kind:      models.BackendCodex,
		ModelName: "default",
	})
	s.workingDir = "/tmp/project"

	want := []string{"exec", "--full-auto", "--skip-git-repo-check", "-C", "/tmp/project", "-"}
	if got := s.buildArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestCodexBuildArgsReasoningEffort(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{
		Kind:            models.BackendCodex,
		ReasoningEffort: "high",
	})
	s.workingDir = "/tmp/project"

	want := []string{
		"exec", "--full-auto", "--skip-git-repo-check", "-C", "/tmp/project",
		"-c", `model_reasoning_effort="high"`, "-",
	}
	if got := s.buildArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestCodexBuildArgsResume(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.workingDir = "/tmp/project"
	s.threadID = "0199a1b2-c3d4"

	want := []string{"exec", "--full-auto", "resume", "0199a1b2-c3d4", "-"}
	if got := s.buildArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestCodexSendPrefixesSystemPrompt(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.systemPrompt = "You are careful."
	s.Send("fix the bug")

	want := "You are careful.\n\n---\n\nfix the bug"
	if s.pending != want {
		t.Errorf("pending = %q, want %q", s.pending, want)
	}
}

func TestCodexSendWithoutSystemPrompt(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.Send("fix the bug")

	if s.pending != "fix the bug" {
		t.Errorf("pending = %q, want bare message", s.pending)
	}
}

func TestCodexReceiveNotStarted(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.pending = "something"

	_, err := s.Receive(time.Second)
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrSpawn {
		t.Errorf("Receive error = %v, want spawn error", err)
	}
}

func TestCodexReceiveEmptyPending(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.started = true

	got, err := s.Receive(time.Second)
	if err != nil || got != "" {
		t.Errorf("Receive with no pending prompt = (%q, %v), want empty and nil", got, err)
	}
}

func TestCodexStartMissingBinary(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.execName = "definitely-not-a-real-binary-xyz"

	if s.Start(t.TempDir(), "") {
		t.Error("Start should return false when the CLI is missing")
	}
}

func TestCodexStopEndsSession(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	s.started = true

	if !s.Alive() {
		t.Fatal("session should be alive before Stop")
	}
	s.Stop()
	if s.Alive() {
		t.Error("session should not be alive after Stop")
	}
}

func TestCodexMultiTurn(t *testing.T) {
	s := NewCodexSession(models.BackendConfig{Kind: models.BackendCodex})
	if !s.SupportsMultiTurn() {
		t.Error("codex sessions carry context across turns")
	}
	if s.SessionID() != "" {
		t.Error("SessionID should be empty before any turn")
	}
	s.threadID = "abc"
	if s.SessionID() != "abc" {
		t.Errorf("SessionID = %q, want abc", s.SessionID())
	}
}
