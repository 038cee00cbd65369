package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/orchardbot/orchard/pkg/models"
)

// statusIcons map subtask statuses to the symbols used in dashboard
// comments.
var statusIcons = map[models.SubtaskStatus]string{
	models.StatusPending:   "⏳",
	models.StatusReady:     "⏳",
	models.StatusRunning:   "🔄",
	models.StatusComplete:  "✅",
	models.StatusFailed:    "❌",
	models.StatusBlocked:   "🚫",
	models.StatusCancelled: "🚫",
}

// postComment publishes a single bot-tagged comment on the parent card.
// Comment failures are logged, never fatal.
func (o *Orchestrator) postComment(ctx context.Context, text string) {
	if err := o.deps.Board.AddComment(ctx, o.run.CardID, BotTag+" "+text); err != nil {
		log.Printf("[orchestrator] could not post comment: %v", err)
	}
}

// postStatus publishes the dashboard comment: phase, cycle, per-status
// tallies, a line per subtask, and an optional extra section.
func (o *Orchestrator) postStatus(ctx context.Context, extra string) {
	comment := o.statusComment(extra)
	if err := o.deps.Board.AddComment(ctx, o.run.CardID, comment); err != nil {
		log.Printf("[orchestrator] could not post status comment: %v", err)
		return
	}
	o.run.StatusPosts++
	o.emit(Event{Type: EventStatusPosted})
}

func (o *Orchestrator) statusComment(extra string) string {
	counts := o.reg.counts()

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Status — cycle %d** (%s)\n\n", BotTag, o.run.Cycle, o.run.Phase)
	fmt.Fprintf(&b, "Agents spawned: %d/%d | complete: %d | running: %d | failed: %d | blocked: %d\n\n",
		o.run.TotalSpawned, o.cfg.Orchestrator.AgentLimit,
		counts[models.StatusComplete], counts[models.StatusRunning],
		counts[models.StatusFailed],
		counts[models.StatusBlocked]+counts[models.StatusCancelled])

	for _, st := range o.run.Subtasks {
		icon := statusIcons[st.Status]
		if icon == "" {
			icon = "•"
		}
		fmt.Fprintf(&b, "%s %s (%s", icon, st.Title, st.Status)
		if st.Attempts > 1 {
			fmt.Fprintf(&b, ", attempt %d", st.Attempts)
		}
		b.WriteString(")\n")
	}

	if extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
	}
	fmt.Fprintf(&b, "\n_%s_", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}

// finalSummary renders the completion comment with merge outcomes.
func (o *Orchestrator) finalSummary(prURL string) string {
	var merged, skipped, other []string
	for _, st := range o.run.Subtasks {
		switch {
		case st.Merged:
			merged = append(merged, st.Title)
		case st.MergeFailed:
			skipped = append(skipped, fmt.Sprintf("%s (`%s`)", st.Title, st.Branch))
		case st.Status != models.StatusComplete:
			other = append(other, fmt.Sprintf("%s (%s)", st.Title, st.Status))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Run complete** on branch `%s`\n\n", BotTag, o.run.ParentBranch)
	if len(merged) > 0 {
		fmt.Fprintf(&b, "Merged: %s\n", strings.Join(merged, ", "))
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "Left for manual integration: %s\n", strings.Join(skipped, ", "))
	}
	if len(other) > 0 {
		fmt.Fprintf(&b, "Not completed: %s\n", strings.Join(other, ", "))
	}
	if prURL != "" {
		fmt.Fprintf(&b, "\nPull request: %s\n", prURL)
	}
	return b.String()
}
