package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/pkg/models"
)

// replanner decides how to recover from failed subtasks: retry with
// modified instructions, bridge around the failure with new subtasks,
// or cancel everything downstream.
type replanner struct {
	runner      agent.Runner
	repoDir     string
	timeout     time.Duration
	maxAttempts int
}

// replanDecision is the wire shape the replanning agent returns.
type replanDecision struct {
	Action               string        `json:"action"`
	ModifiedInstructions string        `json:"modified_instructions"`
	NewTasks             []subtaskSpec `json:"new_tasks"`
	Reason               string        `json:"reason"`
}

// handleFailure routes one failed subtask through the replanner and
// applies the decision to the run. Returned subtasks are bridge tasks
// the caller must register. Any failure to get a usable decision
// degrades to cancelling the failed subtask's dependents.
func (rp *replanner) handleFailure(ctx context.Context, run *models.Run, reg *registry, failed *models.Subtask) []*models.Subtask {
	// Retries are bounded; past the cap the subtask blocks for good.
	if failed.Attempts >= rp.maxAttempts {
		failed.Status = models.StatusBlocked
		failed.Replanned = true
		blocked := reg.blockDependents(failed.Title)
		log.Printf("[orchestrator] %q reached %d attempts, blocked with %d dependent(s)",
			failed.Title, failed.Attempts, len(blocked))
		return nil
	}

	dir := failed.WorktreePath
	if dir == "" {
		dir = rp.repoDir
	}

	log.Printf("[orchestrator] delegating re-plan for %q to agent", failed.Title)
	res := rp.runner.Run(ctx, dir, agent.ReplanPrompt(run.CardName, failed, reg.pendingTitles()), rp.timeout)
	if !res.Success {
		log.Printf("[orchestrator] re-plan agent failed, cancelling dependents of %q", failed.Title)
		return rp.cancel(reg, failed)
	}

	raw, err := agent.ExtractJSONObject(res.Output)
	if err != nil {
		log.Printf("[orchestrator] re-plan agent returned no JSON, cancelling dependents of %q", failed.Title)
		return rp.cancel(reg, failed)
	}

	var decision replanDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		log.Printf("[orchestrator] could not parse re-plan response, cancelling dependents of %q", failed.Title)
		return rp.cancel(reg, failed)
	}

	switch decision.Action {
	case "retry":
		if decision.ModifiedInstructions != "" {
			failed.Description = decision.ModifiedInstructions
		}
		failed.Status = models.StatusPending
		failed.Error = ""
		failed.Replanned = false
		log.Printf("[orchestrator] retrying %q with modified instructions", failed.Title)
		return nil

	case "bridge":
		bridges := specsToSubtasks(toValidBridgeSpecs(decision.NewTasks))
		if len(bridges) == 0 {
			log.Printf("[orchestrator] bridge decision carried no usable tasks, cancelling dependents of %q", failed.Title)
			return rp.cancel(reg, failed)
		}
		failed.Replanned = true
		reg.blockDependents(failed.Title)
		log.Printf("[orchestrator] added %d bridging task(s), blocked dependents of %q",
			len(bridges), failed.Title)
		return bridges

	default: // cancel
		log.Printf("[orchestrator] cancelled dependents of %q (reason: %s)", failed.Title, decision.Reason)
		return rp.cancel(reg, failed)
	}
}

// cancel marks the failure as handled and cancels its dependents.
func (rp *replanner) cancel(reg *registry, failed *models.Subtask) []*models.Subtask {
	failed.Replanned = true
	reg.cancelDependents(failed.Title)
	return nil
}

// toValidBridgeSpecs filters bridge specs to the usable ones. Bridge
// tasks run standalone, so dependency references outside the bridge
// set are dropped rather than rejected.
func toValidBridgeSpecs(specs []subtaskSpec) []subtaskSpec {
	titles := make(map[string]bool, len(specs))
	for _, s := range specs {
		titles[s.Title] = true
	}

	var out []subtaskSpec
	for _, s := range specs {
		if s.Title == "" || s.Description == "" {
			continue
		}
		var deps []string
		for _, dep := range s.Dependencies {
			if titles[dep] && dep != s.Title {
				deps = append(deps, dep)
			}
		}
		s.Dependencies = deps
		out = append(out, s)
	}
	return out
}
