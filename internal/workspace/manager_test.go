package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeGit implements git.Runner with in-memory branch and worktree state.
type fakeGit struct {
	branches  map[string]bool
	worktrees map[string]string // path -> branch
	mkdir     bool              // create worktree directories on disk
}

func newFakeGit(mkdir bool) *fakeGit {
	return &fakeGit{
		branches:  map[string]bool{"main": true},
		worktrees: map[string]string{},
		mkdir:     mkdir,
	}
}

func (f *fakeGit) CurrentBranch() (string, error) { return "main", nil }
func (f *fakeGit) CreateBranch(name, startPoint string) error {
	f.branches[name] = true
	return nil
}
func (f *fakeGit) BranchExists(name string) (bool, error) { return f.branches[name], nil }
func (f *fakeGit) DeleteBranch(name string) error {
	delete(f.branches, name)
	return nil
}
func (f *fakeGit) Fetch() error                  { return nil }
func (f *fakeGit) Push(branch, dir string) error { return nil }
func (f *fakeGit) Pull(branch, dir string) error { return nil }
func (f *fakeGit) MergeNoFF(branch, message, dir string) error { return nil }
func (f *fakeGit) MergeAbort(dir string) error                 { return nil }
func (f *fakeGit) ConflictedFiles(dir string) ([]string, error) { return nil, nil }
func (f *fakeGit) HasConflicts(dir string) (bool, error)        { return false, nil }
func (f *fakeGit) CheckoutTheirs(dir string, paths ...string) error { return nil }
func (f *fakeGit) CommitAll(message, dir string) error              { return nil }
func (f *fakeGit) WorktreeAdd(path, branch string) error {
	f.worktrees[path] = branch
	if f.mkdir {
		return os.MkdirAll(path, 0755)
	}
	return nil
}
func (f *fakeGit) WorktreeRemove(path string) error {
	delete(f.worktrees, path)
	if f.mkdir {
		return os.RemoveAll(path)
	}
	return nil
}
func (f *fakeGit) WorktreeList() ([]string, error) {
	var paths []string
	for p := range f.worktrees {
		paths = append(paths, p)
	}
	return paths, nil
}
func (f *fakeGit) WorktreePrune() error { return nil }
func (f *fakeGit) Run(dir string, args ...string) (string, error) { return "", nil }

func TestClaimCreatesBranchAndWorktree(t *testing.T) {
	g := newFakeGit(false)
	m, err := NewManager(t.TempDir(), "/repo", g)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ws, err := m.Claim("sub-1", "orch/sub-1-abc123", "orch/parent")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !g.branches["orch/sub-1-abc123"] {
		t.Error("expected branch to be created")
	}
	if g.worktrees[ws.Path] != "orch/sub-1-abc123" {
		t.Errorf("expected worktree for branch, got %q", g.worktrees[ws.Path])
	}
	if !m.Claimed(ws.Path) {
		t.Error("expected path to be claimed")
	}
}

func TestClaimTwiceFails(t *testing.T) {
	m, _ := NewManager(t.TempDir(), "/repo", newFakeGit(false))

	if _, err := m.Claim("sub-1", "b1", "main"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := m.Claim("sub-1", "b2", "main"); err == nil {
		t.Error("expected second claim of same name to fail")
	}
}

func TestReleaseFreesClaim(t *testing.T) {
	m, _ := NewManager(t.TempDir(), "/repo", newFakeGit(false))

	ws, err := m.Claim("sub-1", "b1", "main")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := m.Release(ws); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if m.Claimed(ws.Path) {
		t.Error("expected claim to be freed")
	}

	// Same name can be claimed again after release
	if _, err := m.Claim("sub-1", "b1", "main"); err != nil {
		t.Errorf("re-claim after release: %v", err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit(true)
	m, _ := NewManager(base, "/repo", g)

	// Active claim stays.
	active, err := m.Claim("active", "b1", "main")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Tracked but unclaimed worktree goes.
	stale := filepath.Join(base, "stale")
	g.WorktreeAdd(stale, "b2")

	// Untracked directory goes too.
	loose := filepath.Join(base, "loose")
	os.MkdirAll(loose, 0755)

	removed, err := m.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", removed)
	}
	if _, err := os.Stat(active.Path); err != nil {
		t.Error("active workspace should survive cleanup")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale worktree should be removed")
	}
	if _, err := os.Stat(loose); !os.IsNotExist(err) {
		t.Error("loose directory should be removed")
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("Sub Task #1"); got != "sub-task--1" {
		t.Errorf("unexpected sanitized name %q", got)
	}
}
