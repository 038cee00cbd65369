package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchardbot/orchard/internal/config"
)

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Orchard requires the Claude Code CLI to run coding agents.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"For more information, visit:\n" +
			"  https://docs.anthropic.com/en/docs/claude-code")
	}
	return nil
}

// loadConfig loads and returns the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

var (
	flagMaxAgents    int
	flagPollInterval time.Duration
	flagAgentTimeout time.Duration
)

// addTuningFlags registers the orchestration tuning flags shared by the
// orchestrate and watch commands.
func addTuningFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagMaxAgents, "max-agents", 0, "Maximum concurrent agents (overrides config)")
	cmd.Flags().DurationVar(&flagPollInterval, "poll-interval", 0, "Delay between poll cycles (overrides config)")
	cmd.Flags().DurationVar(&flagAgentTimeout, "agent-timeout", 0, "Per-agent time limit (overrides config)")
}

// applyTuningFlags overlays set flags onto the loaded configuration.
func applyTuningFlags(cfg *config.Config) {
	if flagMaxAgents > 0 {
		cfg.Orchestrator.MaxAgents = flagMaxAgents
	}
	if flagPollInterval > 0 {
		cfg.Orchestrator.PollInterval = flagPollInterval
	}
	if flagAgentTimeout > 0 {
		cfg.Orchestrator.AgentTimeout = flagAgentTimeout
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchard",
	Short: "Multi-agent task orchestrator for Trello cards",
	Long: `Orchard turns a Trello card into committed code.

A card placed on the monitored list is decomposed into subtasks by a
planning agent. Each subtask runs as a parallel Claude Code agent in
its own git worktree and branch. Failures are replanned (retry, bridge,
or cancel), the combined output is reviewed, branches are merged onto
an integration branch with agent-assisted conflict resolution, and a
Bitbucket pull request is opened at the end.

Progress is reported back to the card as comments, and moving the card
off the monitored list stops the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
