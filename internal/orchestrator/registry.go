package orchestrator

import (
	"sort"

	"github.com/orchardbot/orchard/pkg/models"
)

// registry wraps the run's subtask list with scheduling queries. The
// list is append-only during a run; only the coordinating goroutine
// calls these methods, so no locking is needed.
type registry struct {
	run *models.Run
}

// ready returns subtasks whose dependencies are all complete, ordered
// by priority ascending and then by creation order. Pending subtasks
// with a failed or blocked dependency are not ready and stay pending
// until the replanner resolves them.
func (r *registry) ready() []*models.Subtask {
	complete := make(map[string]bool)
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusComplete {
			complete[st.Title] = true
		}
	}

	var out []*models.Subtask
	for _, st := range r.run.Subtasks {
		if st.Status != models.StatusPending && st.Status != models.StatusReady {
			continue
		}
		ok := true
		for _, dep := range st.Dependencies {
			if !complete[dep] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, st)
		}
	}

	// Stable sort keeps creation order within equal priority.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// running returns subtasks currently assigned to an agent.
func (r *registry) running() []*models.Subtask {
	var out []*models.Subtask
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusRunning {
			out = append(out, st)
		}
	}
	return out
}

// unroutedFailures returns failed subtasks the replanner has not yet seen.
func (r *registry) unroutedFailures() []*models.Subtask {
	var out []*models.Subtask
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusFailed && !st.Replanned {
			out = append(out, st)
		}
	}
	return out
}

// completedForMerge returns completed subtasks with an unmerged branch,
// ordered by priority ascending then creation order. This ordering is
// deterministic so reruns merge in the same sequence.
func (r *registry) completedForMerge() []*models.Subtask {
	var out []*models.Subtask
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusComplete && st.Branch != "" && !st.Merged {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// completed returns all completed subtasks in creation order.
func (r *registry) completed() []*models.Subtask {
	var out []*models.Subtask
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusComplete {
			out = append(out, st)
		}
	}
	return out
}

// pendingTitles returns the titles of subtasks still waiting to run.
func (r *registry) pendingTitles() []string {
	var out []string
	for _, st := range r.run.Subtasks {
		if st.Status == models.StatusPending || st.Status == models.StatusReady {
			out = append(out, st.Title)
		}
	}
	return out
}

// blockDependents marks every subtask that transitively depends on the
// given title as blocked. Already-terminal subtasks are left alone.
func (r *registry) blockDependents(title string) []*models.Subtask {
	return r.markDependents(title, models.StatusBlocked)
}

// cancelDependents marks every transitive dependent as cancelled. Used
// when the replanner decides the failed work is not worth pursuing.
func (r *registry) cancelDependents(title string) []*models.Subtask {
	return r.markDependents(title, models.StatusCancelled)
}

func (r *registry) markDependents(title string, status models.SubtaskStatus) []*models.Subtask {
	marked := map[string]bool{title: true}
	var out []*models.Subtask

	// Iterate until no new dependents are found; dependency chains can
	// be arbitrarily deep.
	for changed := true; changed; {
		changed = false
		for _, st := range r.run.Subtasks {
			if st.Status.Terminal() || st.Status == models.StatusRunning || marked[st.Title] {
				continue
			}
			for _, dep := range st.Dependencies {
				if marked[dep] {
					st.Status = status
					marked[st.Title] = true
					out = append(out, st)
					changed = true
					break
				}
			}
		}
	}
	return out
}

// counts tallies subtasks per status for status reporting.
func (r *registry) counts() map[models.SubtaskStatus]int {
	out := make(map[models.SubtaskStatus]int)
	for _, st := range r.run.Subtasks {
		out[st.Status]++
	}
	return out
}
