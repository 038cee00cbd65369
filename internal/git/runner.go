// Package git provides an interface for git operations.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// RepoPath returns the path to the main repository.
func (r *ExecRunner) RepoPath() string {
	return r.repoPath
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir == "" {
		dir = r.repoPath
	}
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(dir string, args ...string) error {
	_, err := r.run(dir, args...)
	return err
}

// Run executes an arbitrary git command in the given directory.
func (r *ExecRunner) Run(dir string, args ...string) (string, error) {
	return r.run(dir, args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("", "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates a new branch at the given start point.
func (r *ExecRunner) CreateBranch(name, startPoint string) error {
	if startPoint == "" {
		startPoint = "HEAD"
	}
	return r.runSilent("", "branch", name, startPoint)
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("", "branch", "-D", name)
}

// Fetch fetches from origin.
func (r *ExecRunner) Fetch() error {
	return r.runSilent("", "fetch", "origin")
}

// Push pushes the branch to origin with upstream tracking.
// A missing remote is not fatal; the work stays on the local branch.
func (r *ExecRunner) Push(branch, dir string) error {
	if err := r.runSilent(dir, "push", "-u", "origin", branch); err != nil {
		if !r.hasRemote() {
			return nil
		}
		return err
	}
	return nil
}

// Pull pulls the branch from origin inside the given worktree.
func (r *ExecRunner) Pull(branch, dir string) error {
	if err := r.runSilent(dir, "pull", "origin", branch); err != nil {
		if !r.hasRemote() {
			return nil
		}
		return err
	}
	return nil
}

// hasRemote reports whether an origin remote is configured.
func (r *ExecRunner) hasRemote() bool {
	out, err := r.run("", "remote")
	return err == nil && strings.Contains(out, "origin")
}

// MergeNoFF merges the branch with --no-ff and a custom commit message.
func (r *ExecRunner) MergeNoFF(branch, message, dir string) error {
	return r.runSilent(dir, "merge", "--no-ff", "-m", message, branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort(dir string) error {
	return r.runSilent(dir, "merge", "--abort")
}

// ConflictedFiles returns paths with unmerged changes.
func (r *ExecRunner) ConflictedFiles(dir string) ([]string, error) {
	out, err := r.run(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasConflicts returns true if there are merge conflicts.
func (r *ExecRunner) HasConflicts(dir string) (bool, error) {
	files, err := r.ConflictedFiles(dir)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// CheckoutTheirs checks out the "theirs" version of the given paths.
func (r *ExecRunner) CheckoutTheirs(dir string, paths ...string) error {
	args := append([]string{"checkout", "--theirs"}, paths...)
	return r.runSilent(dir, args...)
}

// CommitAll stages everything and commits with the given message.
func (r *ExecRunner) CommitAll(message, dir string) error {
	if err := r.runSilent(dir, "add", "-A"); err != nil {
		return err
	}
	return r.runSilent(dir, "commit", "-m", message)
}

// WorktreeAdd creates a new worktree at the given path for the branch.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("", "worktree", "add", path, branch)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	return r.runSilent("", "worktree", "remove", "--force", path)
}

// WorktreeList returns the paths of all worktrees.
func (r *ExecRunner) WorktreeList() ([]string, error) {
	out, err := r.run("", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("", "worktree", "prune")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
