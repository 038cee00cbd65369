package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <card-id>",
	Short: "Resume a run paused at the agent limit",
	Long: `Drop a resume marker for the given card's run.

A run that exhausted its agent budget pauses and waits for a human.
This command is the local alternative to posting a "continue" comment
on the card: the running orchestrator picks the marker up within one
poll cycle, extends the budget, and resumes dispatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Repo.StateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	marker := filepath.Join(cfg.Repo.StateDir, args[0]+".resume")
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return fmt.Errorf("write resume marker: %w", err)
	}

	fmt.Printf("Resume marker written: %s\n", marker)
	fmt.Println("The orchestrator will pick it up within one poll cycle.")
	return nil
}
