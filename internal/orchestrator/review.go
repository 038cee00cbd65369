package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/pkg/models"
)

// reviewVerdict is the wire shape of the reassessment result.
type reviewVerdict struct {
	Critical bool          `json:"critical"`
	Issues   []subtaskSpec `json:"issues"`
}

// review runs the post-execution reassessment: every completed branch
// is merged into a throwaway inspection worktree and a reviewer agent
// looks for critical problems only. Critical findings become new
// subtasks and the run drops back to executing; otherwise it moves on
// to merging. A failed review never blocks the run.
func (o *Orchestrator) review(ctx context.Context) {
	completed := o.reg.completed()
	if len(completed) == 0 {
		o.run.Phase = models.PhaseMerging
		o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseMerging)})
		return
	}

	verdict := o.runReview(ctx, completed)
	if verdict == nil || !verdict.Critical || len(verdict.Issues) == 0 {
		if verdict != nil && verdict.Critical {
			log.Printf("[orchestrator] review flagged critical but gave no issues, proceeding")
		} else {
			log.Printf("[orchestrator] review passed, no critical issues found")
		}
		o.run.Phase = models.PhaseMerging
		o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseMerging)})
		return
	}

	fixes := specsToSubtasks(toValidBridgeSpecs(verdict.Issues))
	if len(fixes) == 0 {
		o.run.Phase = models.PhaseMerging
		return
	}
	for _, st := range fixes {
		// Fixes run before anything else the next cycle.
		st.Priority = 1
	}
	o.registerSubtasks(ctx, fixes)
	o.run.Phase = models.PhaseExecuting
	o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseExecuting)})
	o.postStatus(ctx, fmt.Sprintf("Post-execution review found %d critical issue(s); dispatching fix subtasks.", len(fixes)))
	log.Printf("[orchestrator] review found %d critical issue(s), returning to executing", len(fixes))
}

// runReview assembles the inspection worktree, runs the reviewer agent
// in it, and parses the verdict. Returns nil when no usable verdict
// could be produced.
func (o *Orchestrator) runReview(ctx context.Context, completed []*models.Subtask) *reviewVerdict {
	reviewBranch := branchName("orch/review", o.run.ID)
	ws, err := o.deps.Workspaces.Claim("review-"+shortID(o.run.ID), reviewBranch, o.run.ParentBranch)
	if err != nil {
		log.Printf("[orchestrator] could not create review worktree: %v", err)
		return nil
	}
	defer func() {
		if err := o.deps.Workspaces.Release(ws); err != nil {
			log.Printf("[orchestrator] could not remove review worktree: %v", err)
		}
		_ = o.deps.Git.DeleteBranch(reviewBranch)
	}()

	// Merge each branch for inspection only; conflicts resolve to the
	// incoming side so the reviewer sees every agent's work.
	for _, st := range completed {
		if st.Branch == "" {
			continue
		}
		if err := o.deps.Git.MergeNoFF(st.Branch, "review merge "+st.Branch, ws.Path); err != nil {
			conflicted, cerr := o.deps.Git.ConflictedFiles(ws.Path)
			if cerr != nil || len(conflicted) == 0 {
				_ = o.deps.Git.MergeAbort(ws.Path)
				continue
			}
			if err := o.deps.Git.CheckoutTheirs(ws.Path, conflicted...); err != nil {
				_ = o.deps.Git.MergeAbort(ws.Path)
				continue
			}
			if err := o.deps.Git.CommitAll("review merge "+st.Branch, ws.Path); err != nil {
				_ = o.deps.Git.MergeAbort(ws.Path)
			}
		}
	}

	log.Printf("[orchestrator] delegating post-execution review to agent")
	res := o.deps.Coder.Run(ctx, ws.Path, agent.ReviewPrompt(o.run.CardName, completed), o.cfg.Orchestrator.DecisionTimeout)
	if !res.Success {
		log.Printf("[orchestrator] review agent failed, treating as passed: %s", res.Error)
		return nil
	}

	raw, err := agent.ExtractJSONObject(res.Output)
	if err != nil {
		log.Printf("[orchestrator] review agent returned no JSON, treating as passed")
		return nil
	}
	var verdict reviewVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		log.Printf("[orchestrator] review agent returned invalid JSON, treating as passed")
		return nil
	}
	return &verdict
}
