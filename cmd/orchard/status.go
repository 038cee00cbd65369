package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orchardbot/orchard/internal/state"
	"github.com/orchardbot/orchard/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [card-id]",
	Short: "Show run state",
	Long: `Display persisted orchestration runs.

Without arguments, lists every run with its phase and age. With a card
ID, shows that run's subtasks, their statuses, branches, and attempts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.Repo.RunDBPath())
	if err != nil {
		return fmt.Errorf("open run database: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(store, args[0])
	}
	return listRuns(store)
}

func listRuns(store *state.Store) error {
	runs, err := store.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded. Run 'orchard orchestrate <card-id>' to start.")
		return nil
	}

	fmt.Println("Runs:")
	for _, r := range runs {
		age := formatAge(time.Since(r.UpdatedAt))
		fmt.Printf("  %s  %-10s  %q (card %s, updated %s ago)\n",
			r.ID, phaseColor(r.Phase), r.CardName, r.CardID, age)
	}
	return nil
}

func showRun(store *state.Store, cardID string) error {
	run, err := store.LoadRun(cardID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		fmt.Printf("No run recorded for card %s.\n", cardID)
		return nil
	}

	fmt.Printf("Run %s: %q\n", run.ID, run.CardName)
	fmt.Printf("  Phase:    %s\n", phaseColor(run.Phase))
	fmt.Printf("  Branch:   %s\n", run.ParentBranch)
	fmt.Printf("  Cycles:   %d\n", run.Cycle)
	fmt.Printf("  Agents:   %d spawned\n", run.TotalSpawned)
	if run.LastError != "" {
		fmt.Printf("  Stopped:  %s\n", run.LastError)
	}

	if len(run.Subtasks) == 0 {
		fmt.Println("  Subtasks: none")
		return nil
	}
	fmt.Println("  Subtasks:")
	for _, st := range run.Subtasks {
		line := fmt.Sprintf("    %-10s %s", statusColor(st.Status), st.Title)
		if st.Branch != "" {
			line += fmt.Sprintf(" [%s]", st.Branch)
		}
		if st.Attempts > 1 {
			line += fmt.Sprintf(" (attempt %d)", st.Attempts)
		}
		if st.Merged {
			line += " merged"
		} else if st.MergeFailed {
			line += " merge-failed"
		}
		fmt.Println(line)
	}
	return nil
}

func phaseColor(p models.Phase) string {
	switch p {
	case models.PhaseComplete:
		return color.GreenString(string(p))
	case models.PhaseStopped:
		return color.RedString(string(p))
	default:
		return color.YellowString(string(p))
	}
}

func statusColor(s models.SubtaskStatus) string {
	switch s {
	case models.StatusComplete:
		return color.GreenString(string(s))
	case models.StatusFailed, models.StatusBlocked, models.StatusCancelled:
		return color.RedString(string(s))
	case models.StatusRunning:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// formatAge formats a duration in a human-readable way.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
