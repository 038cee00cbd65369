// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranch creates a new branch at the given start point.
	// An empty start point means HEAD.
	CreateBranch(name, startPoint string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// Fetch fetches from origin.
	Fetch() error
	// Push pushes the branch to origin with upstream tracking.
	// The dir argument selects the worktree to push from; empty means
	// the main repository.
	Push(branch, dir string) error
	// Pull pulls the branch from origin inside the given worktree.
	Pull(branch, dir string) error
}

// MergeOperations defines the interface for git merge operations.
// All operations take a dir so merges run inside a dedicated worktree.
type MergeOperations interface {
	// MergeNoFF merges the branch with --no-ff and the given commit message,
	// preserving a distinct integration point per branch.
	MergeNoFF(branch, message, dir string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort(dir string) error
	// ConflictedFiles returns paths with unmerged changes.
	ConflictedFiles(dir string) ([]string, error)
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts(dir string) (bool, error)
	// CheckoutTheirs checks out the "theirs" version of the given paths.
	CheckoutTheirs(dir string, paths ...string) error
	// CommitAll stages everything and commits with the given message.
	CommitAll(message, dir string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for the branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemove removes the worktree at the given path (force).
	WorktreeRemove(path string) error
	// WorktreeList returns the paths of all worktrees.
	WorktreeList() ([]string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations used by the
// orchestrator. Consumers should prefer the focused interfaces.
type Runner interface {
	BranchOperations
	RemoteOperations
	MergeOperations
	WorktreeOperations
	// Run executes an arbitrary git command in the given directory.
	// An empty dir means the main repository.
	Run(dir string, args ...string) (string, error)
}
