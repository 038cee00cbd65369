package models

import "time"

// Phase is the run-level stage of an orchestration.
type Phase string

const (
	// PhasePlanning indicates decomposition is in progress.
	PhasePlanning Phase = "planning"
	// PhaseExecuting indicates subtasks are being dispatched and harvested.
	PhaseExecuting Phase = "executing"
	// PhaseReviewing indicates the full-completion reassessment pass is running.
	PhaseReviewing Phase = "reviewing"
	// PhaseMerging indicates completed branches are being integrated.
	PhaseMerging Phase = "merging"
	// PhaseComplete indicates the run finished and the pull request was opened.
	PhaseComplete Phase = "complete"
	// PhaseStopped indicates the run ended early (stop signal or planning failure).
	PhaseStopped Phase = "stopped"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseExecuting, PhaseReviewing, PhaseMerging,
		PhaseComplete, PhaseStopped:
		return true
	default:
		return false
	}
}

// Terminal returns true once no further polling occurs for the run.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseStopped
}

// Run is the persistent state of one orchestration run. It spans from
// first detection of the work item to COMPLETE or STOPPED and is saved
// after every cycle so a restart resumes mid-run without re-decomposing
// or re-running completed subtasks.
type Run struct {
	// ID is the short unique identifier for this run.
	ID string `json:"id"`
	// CardID is the parent work item on the board.
	CardID string `json:"card_id"`
	// CardName is the parent work item title.
	CardName string `json:"card_name"`
	// ParentBranch is the integration branch for this run.
	ParentBranch string `json:"parent_branch"`
	// OriginListID is where the card came from, so it can be restored.
	OriginListID string `json:"origin_list_id,omitempty"`
	// SubtaskListID is the board list holding the per-subtask cards.
	SubtaskListID string `json:"subtask_list_id,omitempty"`
	// Phase is the current run-level stage.
	Phase Phase `json:"phase"`
	// Subtasks is the ordered registry contents. Append-only during EXECUTING.
	Subtasks []*Subtask `json:"subtasks"`
	// Cycle counts poll cycles since the run began.
	Cycle int `json:"cycle"`
	// TotalSpawned counts agents dispatched over the run's lifetime.
	// Monotonic; enforced against the configured agent limit.
	TotalSpawned int `json:"total_spawned"`
	// StatusPosts counts dashboard comments published so far.
	StatusPosts int `json:"status_posts"`
	// LastError records the fatal error for stopped runs.
	LastError string `json:"last_error,omitempty"`
	// CreatedAt is when the run was first persisted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last persistence time.
	UpdatedAt time.Time `json:"updated_at"`
}

// AllTerminal reports whether every subtask is in a status that ends the
// executing loop: complete, cancelled, blocked, or failed-awaiting-nothing.
func (r *Run) AllTerminal() bool {
	for _, st := range r.Subtasks {
		switch st.Status {
		case StatusComplete, StatusCancelled, StatusBlocked:
		case StatusFailed:
			// A failure that has been routed through the replanner and left
			// as failed is terminal; an unrouted failure is not.
			if !st.Replanned {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Subtask returns the subtask with the given ID, or nil.
func (r *Run) Subtask(id string) *Subtask {
	for _, st := range r.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}
