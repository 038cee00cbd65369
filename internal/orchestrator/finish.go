package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/orchardbot/orchard/pkg/models"
)

// finish closes out the run after merging: open the pull request,
// publish the final summary, tidy the board, and mark the run complete.
func (o *Orchestrator) finish(ctx context.Context) {
	prURL := o.openPullRequest(ctx)

	if err := o.deps.Board.AddComment(ctx, o.run.CardID, o.finalSummary(prURL)); err != nil {
		log.Printf("[orchestrator] could not post final summary: %v", err)
	}

	if o.run.SubtaskListID != "" {
		if err := o.deps.Board.ArchiveList(ctx, o.run.SubtaskListID); err != nil {
			log.Printf("[orchestrator] could not archive subtask list: %v", err)
		}
	}

	if o.run.OriginListID != "" {
		if err := o.deps.Board.MoveCard(ctx, o.run.CardID, o.run.OriginListID); err != nil {
			log.Printf("[orchestrator] could not move card back: %v", err)
		}
	}

	o.run.Phase = models.PhaseComplete
	o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseComplete)})
	log.Printf("[orchestrator] run %s complete", o.run.ID)
}

// openPullRequest opens a PR from the integration branch into the base
// branch. Skipped when no code host is configured or nothing merged.
func (o *Orchestrator) openPullRequest(ctx context.Context) string {
	if o.deps.Host == nil {
		return ""
	}
	anyMerged := false
	for _, st := range o.run.Subtasks {
		if st.Merged {
			anyMerged = true
			break
		}
	}
	if !anyMerged {
		return ""
	}

	base, err := o.deps.Git.CurrentBranch()
	if err != nil {
		log.Printf("[orchestrator] could not determine base branch for PR: %v", err)
		return ""
	}

	var lines []string
	for _, st := range o.run.Subtasks {
		if st.Merged {
			lines = append(lines, "- "+st.Title)
		}
	}
	description := fmt.Sprintf("Automated orchestration of %q.\n\nMerged subtasks:\n%s",
		o.run.CardName, strings.Join(lines, "\n"))

	pr, err := o.deps.Host.OpenPullRequest(ctx,
		"Orchestrated: "+o.run.CardName, description,
		o.run.ParentBranch, base)
	if err != nil {
		log.Printf("[orchestrator] could not open pull request: %v", err)
		o.postComment(ctx, fmt.Sprintf("Could not open pull request: %v. Branch `%s` is ready for a manual PR.", err, o.run.ParentBranch))
		return ""
	}
	log.Printf("[orchestrator] opened pull request %s", pr.URL)
	return pr.URL
}
