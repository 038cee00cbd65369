package main

import (
	"fmt"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/internal/board"
	"github.com/orchardbot/orchard/internal/codehost"
	"github.com/orchardbot/orchard/internal/config"
	"github.com/orchardbot/orchard/internal/git"
	"github.com/orchardbot/orchard/internal/orchestrator"
	"github.com/orchardbot/orchard/internal/state"
	"github.com/orchardbot/orchard/internal/workspace"
)

// buildDeps wires the orchestrator's collaborators from configuration.
// The returned closer releases the state store.
func buildDeps(cfg *config.Config) (orchestrator.Deps, func() error, error) {
	var deps orchestrator.Deps

	if err := cfg.Validate(); err != nil {
		return deps, nil, err
	}

	gitRunner := git.NewRunner(cfg.Repo.Path)

	store, err := state.Open(cfg.Repo.RunDBPath())
	if err != nil {
		return deps, nil, fmt.Errorf("open run database: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.Repo.WorktreeDir(), cfg.Repo.Path, gitRunner)
	if err != nil {
		store.Close()
		return deps, nil, err
	}

	deps = orchestrator.Deps{
		Board:      board.NewClient(cfg.Trello.APIKey, cfg.Trello.Token),
		Git:        gitRunner,
		Store:      store,
		Workspaces: workspaces,
		Coder:      agent.NewCLIRunner(cfg.Anthropic.Model),
	}

	// Text-only decisions can go straight to the API when configured;
	// file-modifying work always runs through the CLI.
	if cfg.Anthropic.UseAPI && cfg.Anthropic.APIKey != "" {
		deps.Decider = agent.NewAPIRunner(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	}

	if bb := codehost.NewBitbucketClient(cfg.Bitbucket.AccessToken, cfg.Bitbucket.Workspace, cfg.Bitbucket.RepoSlug); bb.Configured() {
		deps.Host = bb
	}

	return deps, store.Close, nil
}
