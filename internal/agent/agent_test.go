package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orchardbot/orchard/pkg/models"
)

func TestExtractJSONArray(t *testing.T) {
	raw := "Here is the plan:\n```json\n[{\"id\": \"a\"}]\n```\nDone."
	got, err := ExtractJSONArray(raw)
	if err != nil {
		t.Fatalf("ExtractJSONArray: %v", err)
	}
	if got != `[{"id": "a"}]` {
		t.Errorf("unexpected extraction %q", got)
	}
}

func TestExtractJSONArrayMissing(t *testing.T) {
	if _, err := ExtractJSONArray("no json here"); err == nil {
		t.Error("expected error for missing array")
	}
}

func TestExtractJSONObject(t *testing.T) {
	raw := "verdict below\n{\"critical\": true, \"issues\": []}\nthanks"
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("ExtractJSONObject: %v", err)
	}
	if got != `{"critical": true, "issues": []}` {
		t.Errorf("unexpected extraction %q", got)
	}
}

func TestExecutionPrompt(t *testing.T) {
	st := &models.Subtask{
		Title:          "setup-auth",
		Description:    "Implement the login endpoint.",
		EstimatedFiles: []string{"auth/login.go"},
	}
	prompt := ExecutionPrompt("Add login", st)

	for _, want := range []string{
		"Add login",
		"setup-auth",
		"Implement the login endpoint.",
		"auth/login.go",
		"Do NOT push to remote",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestExecutionPromptNoFiles(t *testing.T) {
	st := &models.Subtask{Title: "x", Description: "y"}
	if !strings.Contains(ExecutionPrompt("p", st), "Determine from the description.") {
		t.Error("expected fallback file hint")
	}
}

func TestReplanPrompt(t *testing.T) {
	failed := &models.Subtask{Title: "setup-db", Error: "migration failed"}
	prompt := ReplanPrompt("Add login", failed, []string{"api-layer", "tests"})

	for _, want := range []string{"setup-db", "migration failed", "api-layer, tests", "retry", "bridge", "cancel"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	empty := ReplanPrompt("p", &models.Subtask{Title: "t"}, nil)
	if !strings.Contains(empty, "Pending tasks: none") {
		t.Error("expected 'none' for empty pending list")
	}
	if !strings.Contains(empty, "Error: unknown") {
		t.Error("expected 'unknown' for empty error")
	}
}

func TestReviewPrompt(t *testing.T) {
	completed := []*models.Subtask{
		{Title: "a", Branch: "orch/a-123456"},
		{Title: "b", Branch: "orch/b-123456"},
	}
	prompt := ReviewPrompt("Add login", completed)

	if !strings.Contains(prompt, "git diff HEAD~2") {
		t.Error("expected diff depth to match completed count")
	}
	if !strings.Contains(prompt, "orch/a-123456") {
		t.Error("expected branch summary in prompt")
	}
}

func TestCLIRunnerTimeout(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-agent")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}

	r := &CLIRunner{Command: script, SkipCommit: true}
	res := r.Run(context.Background(), dir, "prompt", 50*time.Millisecond)
	if res.Success {
		t.Error("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", res.Error)
	}
}

func TestCLIRunnerSuccess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-agent")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho done\n"), 0755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}

	r := &CLIRunner{Command: script, SkipCommit: true}
	res := r.Run(context.Background(), dir, "prompt", time.Second)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Output != "done" {
		t.Errorf("expected trimmed output, got %q", res.Output)
	}
}

func TestCLIRunnerMissingBinary(t *testing.T) {
	r := &CLIRunner{Command: "definitely-not-a-real-binary", SkipCommit: true}
	res := r.Run(context.Background(), t.TempDir(), "hi", time.Second)
	if res.Success {
		t.Error("expected failure for missing binary")
	}
}
