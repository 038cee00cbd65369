package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchardbot/orchard/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the resolved configuration after merging defaults, the user
config file, the project .orchard.yaml, and environment variables.
Secrets are shown redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("User config file: %s\n\n", config.GetUserConfigPath())

	fmt.Println("trello:")
	fmt.Printf("  api_key:               %s\n", redact(cfg.Trello.APIKey))
	fmt.Printf("  token:                 %s\n", redact(cfg.Trello.Token))
	fmt.Printf("  board_id:              %s\n", cfg.Trello.BoardID)
	fmt.Printf("  backlog_list_id:       %s\n", cfg.Trello.BacklogListID)
	fmt.Printf("  orchestrator_list_id:  %s\n", cfg.Trello.OrchestratorListID)

	fmt.Println("bitbucket:")
	fmt.Printf("  access_token:          %s\n", redact(cfg.Bitbucket.AccessToken))
	fmt.Printf("  workspace:             %s\n", cfg.Bitbucket.Workspace)
	fmt.Printf("  repo_slug:             %s\n", cfg.Bitbucket.RepoSlug)

	fmt.Println("anthropic:")
	fmt.Printf("  api_key:               %s\n", redact(cfg.Anthropic.APIKey))
	fmt.Printf("  use_api:               %v\n", cfg.Anthropic.UseAPI)
	fmt.Printf("  model:                 %s\n", cfg.Anthropic.Model)

	fmt.Println("repo:")
	fmt.Printf("  path:                  %s\n", cfg.Repo.Path)
	fmt.Printf("  state_dir:             %s\n", cfg.Repo.StateDir)

	fmt.Println("orchestrator:")
	fmt.Printf("  max_agents:            %d\n", cfg.Orchestrator.MaxAgents)
	fmt.Printf("  poll_interval:         %s\n", cfg.Orchestrator.PollInterval)
	fmt.Printf("  agent_timeout:         %s\n", cfg.Orchestrator.AgentTimeout)
	fmt.Printf("  decision_timeout:      %s\n", cfg.Orchestrator.DecisionTimeout)
	fmt.Printf("  agent_limit:           %d\n", cfg.Orchestrator.AgentLimit)
	fmt.Printf("  max_attempts:          %d\n", cfg.Orchestrator.MaxAttempts)
	fmt.Printf("  status_every:          %d\n", cfg.Orchestrator.StatusEvery)
	fmt.Printf("  decompose_retries:     %d\n", cfg.Orchestrator.DecomposeRetries)
	fmt.Printf("  watch_interval:        %s\n", cfg.Orchestrator.WatchInterval)
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
