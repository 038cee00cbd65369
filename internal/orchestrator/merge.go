package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/pkg/models"
)

// merge integrates every completed branch into the parent branch, in
// priority order, inside a dedicated merge worktree. Conflicts are
// delegated to an agent; a branch whose conflicts cannot be fully
// cleared is abandoned rather than merged dirty.
func (o *Orchestrator) merge(ctx context.Context) {
	toMerge := o.reg.completedForMerge()
	if len(toMerge) == 0 {
		log.Printf("[orchestrator] nothing to merge")
		return
	}

	ws, err := o.deps.Workspaces.Claim("merge-"+shortID(o.run.ID), o.run.ParentBranch, "")
	if err != nil {
		log.Printf("[orchestrator] could not create merge worktree: %v", err)
		o.postComment(ctx, fmt.Sprintf("Merging failed: could not create merge worktree (%v).", err))
		return
	}
	defer func() {
		if err := o.deps.Workspaces.Release(ws); err != nil {
			log.Printf("[orchestrator] could not remove merge worktree: %v", err)
		}
	}()

	_ = o.deps.Git.Pull(o.run.ParentBranch, ws.Path)

	for _, st := range toMerge {
		o.mergeBranch(ctx, st, ws.Path)
		if st.WorktreePath != "" {
			if err := o.deps.Workspaces.ReleasePath(st.WorktreePath); err == nil {
				st.WorktreePath = ""
			}
		}
	}

	if err := o.deps.Git.Push(o.run.ParentBranch, ws.Path); err != nil {
		log.Printf("[orchestrator] could not push %s: %v", o.run.ParentBranch, err)
	}
}

// mergeBranch merges one subtask branch into the parent, delegating
// conflict resolution to an agent when needed.
func (o *Orchestrator) mergeBranch(ctx context.Context, st *models.Subtask, dir string) {
	log.Printf("[orchestrator] merging branch %s", st.Branch)

	mergeErr := o.deps.Git.MergeNoFF(st.Branch, mergeMessage(st), dir)
	if mergeErr == nil {
		st.Merged = true
		o.emit(Event{Type: EventMerged, SubtaskID: st.ID, Title: st.Title})
		log.Printf("[orchestrator] merged %s cleanly", st.Branch)
		return
	}

	conflicted, err := o.deps.Git.ConflictedFiles(dir)
	if err != nil || len(conflicted) == 0 {
		// Not a conflict; something else went wrong.
		_ = o.deps.Git.MergeAbort(dir)
		o.skipBranch(ctx, st, fmt.Sprintf("merge failed: %v", mergeErr))
		return
	}

	log.Printf("[orchestrator] merge conflict on %s, attempting auto-resolution", st.Branch)
	res := o.deps.Coder.Run(ctx, dir, agent.ConflictResolutionPrompt(), o.cfg.Orchestrator.DecisionTimeout)
	if !res.Success {
		_ = o.deps.Git.MergeAbort(dir)
		o.skipBranch(ctx, st, "conflict resolution agent failed")
		return
	}

	if unresolved, _ := o.deps.Git.HasConflicts(dir); unresolved {
		_ = o.deps.Git.MergeAbort(dir)
		o.skipBranch(ctx, st, "conflicts remained after resolution")
		return
	}

	// The index can be clean while files still carry conflict markers;
	// a marker committed to the parent branch poisons every later merge.
	if leftover := filesWithConflictMarkers(dir, conflicted); len(leftover) > 0 {
		_ = o.deps.Git.MergeAbort(dir)
		o.skipBranch(ctx, st, "conflict markers left in "+strings.Join(leftover, ", "))
		return
	}

	if err := o.deps.Git.CommitAll("Resolved merge conflicts for "+st.Branch, dir); err != nil {
		_ = o.deps.Git.MergeAbort(dir)
		o.skipBranch(ctx, st, fmt.Sprintf("could not commit resolution: %v", err))
		return
	}

	st.Merged = true
	o.emit(Event{Type: EventMerged, SubtaskID: st.ID, Title: st.Title})
	log.Printf("[orchestrator] conflicts resolved for %s", st.Branch)
}

// skipBranch records a failed integration and tells the board.
func (o *Orchestrator) skipBranch(ctx context.Context, st *models.Subtask, reason string) {
	st.MergeFailed = true
	o.emit(Event{Type: EventMergeSkipped, SubtaskID: st.ID, Title: st.Title, Message: reason})
	log.Printf("[orchestrator] skipping %s: %s", st.Branch, reason)
	o.postComment(ctx, fmt.Sprintf("Could not merge `%s` (%s). The branch was left for manual integration.", st.Branch, reason))
}

// filesWithConflictMarkers returns the given paths that still contain
// git conflict markers at the start of a line.
func filesWithConflictMarkers(dir string, paths []string) []string {
	var out []string
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil {
			continue
		}
		if hasConflictMarkers(string(data)) {
			out = append(out, p)
		}
	}
	return out
}

func hasConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<< ") || strings.HasPrefix(line, ">>>>>>> ") {
			return true
		}
	}
	return false
}

func mergeMessage(st *models.Subtask) string {
	return fmt.Sprintf("Merge %s: %s", st.Branch, st.Title)
}
