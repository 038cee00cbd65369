// Package agent runs coding agents and decision calls for the
// orchestrator. The primary implementation shells out to the claude
// CLI inside a worktree; an API-backed runner handles text-only
// decision prompts when direct API access is configured.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of one agent invocation.
type Result struct {
	// Success is true when the agent exited cleanly.
	Success bool
	// Output is the agent's combined textual output.
	Output string
	// Error holds the failure description when Success is false.
	Error string
}

// Runner executes a prompt and returns the outcome. Implementations
// must honor the timeout and never block past it.
type Runner interface {
	// Run executes prompt with dir as the working directory. An empty
	// dir means the runner's default. File-modifying work requires a
	// runner with filesystem access.
	Run(ctx context.Context, dir, prompt string, timeout time.Duration) Result
}

// CLIRunner runs the claude CLI as a subprocess inside a worktree.
// After each invocation it commits whatever the agent left behind, so
// the branch always reflects the agent's last state.
type CLIRunner struct {
	// Command is the CLI binary name. Defaults to "claude".
	Command string
	// Model overrides the CLI's default model when set.
	Model string
	// SkipCommit disables the post-run commit (used for decision calls
	// that must not dirty the repository).
	SkipCommit bool
}

// NewCLIRunner creates a runner for the claude CLI.
func NewCLIRunner(model string) *CLIRunner {
	return &CLIRunner{Command: "claude", Model: model}
}

// Run executes the prompt in dir and commits resulting changes.
func (r *CLIRunner) Run(ctx context.Context, dir, prompt string, timeout time.Duration) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--dangerously-skip-permissions",
		"-p", prompt,
		"--allowedTools", "Bash", "Read", "Write", "Edit", "MultiEdit", "Glob", "Grep",
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}

	command := r.Command
	if command == "" {
		command = "claude"
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	if !r.SkipCommit && dir != "" {
		r.commitWork(dir)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Success: false, Error: fmt.Sprintf("agent timed out after %s", timeout)}
	}
	if err != nil {
		return Result{
			Success: false,
			Output:  string(out),
			Error:   fmt.Sprintf("agent exited with error: %v", err),
		}
	}
	return Result{Success: true, Output: strings.TrimSpace(string(out))}
}

// commitWork stages and commits anything the agent changed. A failed
// commit (nothing to commit) is not an error.
func (r *CLIRunner) commitWork(dir string) {
	add := exec.Command("git", "add", "-A")
	add.Dir = dir
	_ = add.Run()

	commit := exec.Command("git", "commit", "-m", "Agent work completed")
	commit.Dir = dir
	_ = commit.Run()
}

var _ Runner = (*CLIRunner)(nil)
