// Package workspace manages the isolated git worktrees agents work in.
// Each subtask gets its own branch and worktree; a claim set guarantees
// no two agents ever share a checkout.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/orchardbot/orchard/internal/git"
)

// Workspace is one isolated checkout bound to a branch.
type Workspace struct {
	// Path is the absolute worktree directory.
	Path string
	// Branch is the branch checked out in this worktree.
	Branch string
}

// Manager creates and tears down worktrees under a single base
// directory and enforces mutual exclusion on active claims.
type Manager struct {
	baseDir  string
	repoPath string
	git      git.Runner

	mu      sync.Mutex
	claimed map[string]string // path -> branch
}

// NewManager creates a workspace manager. baseDir is created if missing.
func NewManager(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("workspace base directory must be set")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		claimed:  make(map[string]string),
	}, nil
}

// BaseDir returns the directory worktrees are created under.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Claim creates a branch off startPoint and a worktree for it, and
// records the claim. The name becomes the directory name; claiming a
// name twice without releasing it is an error.
func (m *Manager) Claim(name, branch, startPoint string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.baseDir, sanitize(name))
	if _, ok := m.claimed[path]; ok {
		return nil, fmt.Errorf("workspace %s already claimed", path)
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, fmt.Errorf("check branch %s: %w", branch, err)
	}
	if !exists {
		if err := m.git.CreateBranch(branch, startPoint); err != nil {
			return nil, fmt.Errorf("create branch %s: %w", branch, err)
		}
	}

	if err := m.git.WorktreeAdd(path, branch); err != nil {
		return nil, fmt.Errorf("add worktree %s: %w", path, err)
	}

	m.claimed[path] = branch
	return &Workspace{Path: path, Branch: branch}, nil
}

// Release removes the worktree and frees the claim. The branch is left
// in place; it still carries the agent's commits until merged.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemove(ws.Path); err != nil {
		// The directory may already be gone; prune and fall through.
		_ = m.git.WorktreePrune()
		if _, statErr := os.Stat(ws.Path); statErr == nil {
			return fmt.Errorf("remove worktree %s: %w", ws.Path, err)
		}
	}
	delete(m.claimed, ws.Path)
	return nil
}

// ReleasePath releases a workspace known only by its path, as happens
// after resuming a run from persisted state.
func (m *Manager) ReleasePath(path string) error {
	if path == "" {
		return nil
	}
	branch := ""
	m.mu.Lock()
	branch = m.claimed[path]
	m.mu.Unlock()
	return m.Release(&Workspace{Path: path, Branch: branch})
}

// Claimed reports whether the path is currently claimed.
func (m *Manager) Claimed(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claimed[path]
	return ok
}

// CleanupOrphans removes worktrees under the base directory that git no
// longer tracks or that belong to no active claim. Returns the removed
// paths. Called on startup to recover from crashes.
func (m *Manager) CleanupOrphans() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.git.WorktreePrune()

	known := make(map[string]bool)
	if paths, err := m.git.WorktreeList(); err == nil {
		for _, p := range paths {
			known[p] = true
		}
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace base directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if _, active := m.claimed[path]; active {
			continue
		}
		if known[path] {
			if err := m.git.WorktreeRemove(path); err != nil {
				continue
			}
		} else if err := os.RemoveAll(path); err != nil {
			continue
		}
		removed = append(removed, path)
	}

	_ = m.git.WorktreePrune()
	return removed, nil
}

// sanitize maps a claim name to a safe directory name.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
