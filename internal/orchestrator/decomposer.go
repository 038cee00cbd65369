package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/pkg/models"
)

const (
	minSubtasks = 3
	maxSubtasks = 8
)

// decomposer turns a work item into a validated subtask plan by
// delegating to a decision agent and policing its output.
type decomposer struct {
	runner  agent.Runner
	repoDir string
	timeout time.Duration
	retries int
}

// subtaskSpec is the wire shape a planning agent returns.
type subtaskSpec struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Dependencies   []string `json:"dependencies"`
	EstimatedFiles []string `json:"estimated_files"`
	Priority       int      `json:"priority"`
}

// decompose produces between 3 and 8 validated subtasks for the work
// item. Malformed output is repaired once per attempt; invalid plans
// are re-requested with an error hint up to the configured retry count.
func (d *decomposer) decompose(ctx context.Context, item *models.WorkItem, attachmentsInfo string) ([]*models.Subtask, error) {
	base := agent.DecompositionPrompt(item.Title, item.Description, attachmentsInfo)

	attempts := 0
	hint := ""
	var lastErr error

	for attempts <= d.retries {
		attempts++

		prompt := base
		if hint != "" {
			prompt += "\n\nYour previous plan was rejected: " + hint +
				"\nProduce a corrected JSON array."
		}

		log.Printf("[orchestrator] delegating task decomposition to agent (attempt %d)", attempts)
		res := d.runner.Run(ctx, d.repoDir, prompt, d.timeout)
		if !res.Success {
			lastErr = fmt.Errorf("decomposition agent failed: %s", res.Error)
			hint = "the agent call failed; try again"
			continue
		}

		specs, err := d.parse(ctx, res.Output)
		if err != nil {
			lastErr = err
			hint = err.Error()
			continue
		}

		if err := validateSpecs(specs); err != nil {
			lastErr = err
			hint = err.Error()
			continue
		}

		return specsToSubtasks(specs), nil
	}

	return nil, &DecompositionError{Attempts: attempts, Err: lastErr}
}

// parse extracts and unmarshals the subtask array, asking the agent to
// fix broken JSON once before giving up on this attempt.
func (d *decomposer) parse(ctx context.Context, raw string) ([]subtaskSpec, error) {
	extract, err := agent.ExtractJSONArray(raw)
	if err == nil {
		var specs []subtaskSpec
		if jsonErr := json.Unmarshal([]byte(extract), &specs); jsonErr == nil {
			return specs, nil
		}
	}

	fixRes := d.runner.Run(ctx, d.repoDir, agent.DecompositionFixPrompt(raw), d.timeout)
	if !fixRes.Success {
		return nil, fmt.Errorf("output was not valid JSON and repair failed: %s", fixRes.Error)
	}
	extract, err = agent.ExtractJSONArray(fixRes.Output)
	if err != nil {
		return nil, fmt.Errorf("repaired output still has no JSON array")
	}
	var specs []subtaskSpec
	if err := json.Unmarshal([]byte(extract), &specs); err != nil {
		return nil, fmt.Errorf("repaired output is still invalid JSON: %v", err)
	}
	return specs, nil
}

// validateSpecs enforces plan shape: subtask count, required fields,
// unique titles, and dependencies that reference titles in the plan.
func validateSpecs(specs []subtaskSpec) error {
	if len(specs) < minSubtasks || len(specs) > maxSubtasks {
		return fmt.Errorf("plan must contain %d-%d subtasks, got %d", minSubtasks, maxSubtasks, len(specs))
	}

	titles := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.Title == "" {
			return fmt.Errorf("subtask %d has no title", i+1)
		}
		if s.Description == "" {
			return fmt.Errorf("subtask %q has no description", s.Title)
		}
		if titles[s.Title] {
			return fmt.Errorf("duplicate subtask title %q", s.Title)
		}
		titles[s.Title] = true
	}

	for _, s := range specs {
		for _, dep := range s.Dependencies {
			if dep == s.Title {
				return fmt.Errorf("subtask %q depends on itself", s.Title)
			}
			if !titles[dep] {
				return fmt.Errorf("subtask %q depends on unknown title %q", s.Title, dep)
			}
		}
	}
	return nil
}

// specsToSubtasks converts validated specs into pending subtasks.
// Agent-chosen IDs are discarded; stable IDs are assigned by the
// orchestrator when the subtasks join the run.
func specsToSubtasks(specs []subtaskSpec) []*models.Subtask {
	out := make([]*models.Subtask, 0, len(specs))
	for _, s := range specs {
		priority := s.Priority
		if priority <= 0 {
			priority = 50
		}
		deps := s.Dependencies
		if deps == nil {
			deps = []string{}
		}
		out = append(out, &models.Subtask{
			Title:          s.Title,
			Description:    s.Description,
			Dependencies:   deps,
			EstimatedFiles: s.EstimatedFiles,
			Priority:       priority,
			Status:         models.StatusPending,
		})
	}
	return out
}
