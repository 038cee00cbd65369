package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchardbot/orchard/internal/git"
	"github.com/orchardbot/orchard/internal/workspace"
)

var cleanupVerbose bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned agent worktrees",
	Long: `Clean up worktrees left behind by crashed or interrupted runs.

This command:
  - Runs git worktree prune
  - Removes every worktree under the state directory that no live run
    has claimed

A running orchestrator cleans its own orphans on resume; use this when
no run is active.

Examples:
  orchard cleanup
  orchard cleanup -v   # show each removed worktree`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Repo.Path == "" {
		return fmt.Errorf("repo.path (GIT_REPO_PATH) must be set")
	}

	manager, err := workspace.NewManager(cfg.Repo.WorktreeDir(), cfg.Repo.Path, git.NewRunner(cfg.Repo.Path))
	if err != nil {
		return err
	}

	removed, err := manager.CleanupOrphans()
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}

	if len(removed) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	if cleanupVerbose {
		for _, path := range removed {
			fmt.Printf("Removed: %s\n", path)
		}
	}
	fmt.Printf("Successfully removed %d orphaned worktree(s).\n", len(removed))
	return nil
}
