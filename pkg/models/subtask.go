package models

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// StatusPending indicates the subtask has not started.
	StatusPending SubtaskStatus = "pending"
	// StatusReady indicates dependencies are met and the subtask awaits an agent slot.
	StatusReady SubtaskStatus = "ready"
	// StatusRunning indicates an agent is working on the subtask.
	StatusRunning SubtaskStatus = "running"
	// StatusComplete indicates the subtask finished successfully.
	StatusComplete SubtaskStatus = "complete"
	// StatusFailed indicates the agent call failed or timed out.
	StatusFailed SubtaskStatus = "failed"
	// StatusBlocked indicates a dependency failed permanently.
	StatusBlocked SubtaskStatus = "blocked"
	// StatusCancelled indicates the subtask was cancelled by the replanner.
	StatusCancelled SubtaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning, StatusComplete,
		StatusFailed, StatusBlocked, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further automatic transition can occur
// without an explicit replanner reset.
func (s SubtaskStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusBlocked, StatusCancelled:
		return true
	default:
		return false
	}
}

// Subtask represents a decomposed, independently executable unit of work
// derived from a work item. Subtasks are owned by the registry for the
// lifetime of one orchestration run; only the coordinating goroutine
// mutates them.
type Subtask struct {
	// ID is the stable identifier, assigned locally from parent run + index.
	ID string `json:"id"`
	// Title is the short subtask title, also used as a dependency key.
	Title string `json:"title"`
	// Description is a standalone prompt for a coding agent.
	Description string `json:"description"`
	// Dependencies lists titles of subtasks that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
	// EstimatedFiles hints at the files this subtask will likely touch.
	EstimatedFiles []string `json:"estimated_files,omitempty"`
	// Priority orders execution and merging; lower runs and merges first.
	Priority int `json:"priority"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
	// CardID is the board card created for human visibility, if any.
	CardID string `json:"card_id,omitempty"`
	// Branch is the git branch the agent works on.
	Branch string `json:"branch,omitempty"`
	// WorktreePath is the isolated checkout bound to Branch.
	WorktreePath string `json:"worktree_path,omitempty"`
	// Attempts counts how many times an agent was dispatched. Never decreases.
	Attempts int `json:"attempts"`
	// Error holds the last failure text.
	Error string `json:"error,omitempty"`
	// ResultSummary holds truncated agent output from the last successful run.
	ResultSummary string `json:"result_summary,omitempty"`
	// Merged indicates the branch was integrated into the parent branch.
	Merged bool `json:"merged"`
	// MergeFailed indicates integration was attempted and abandoned.
	MergeFailed bool `json:"merge_failed"`
	// Replanned indicates the failure has already been routed to the replanner.
	Replanned bool `json:"replanned"`
	// StartedAt and CompletedAt are RFC3339 timestamps when set.
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}
