package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orchardbot/orchard/internal/orchestrator"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the orchestrator list and run new cards",
	Long: `Continuously scan the configured orchestrator list and run each
new card to completion, one at a time. Cards whose runs already
finished are skipped until they leave and re-enter the list.

The scan interval is orchestrator.watch_interval (default 60s).
Press Ctrl-C to stop; the run in progress is drained first.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addTuningFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := CheckClaudeCLI(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyTuningFlags(cfg)

	deps, closeStore, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	watcher, err := orchestrator.NewWatcher(cfg, deps)
	if err != nil {
		return err
	}
	watcher.OnEvent = printEvent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println()
		color.Yellow("Stopping watch...")
		watcher.Stop()
		cancel()
	}()

	color.Cyan("Watching list %s", cfg.Trello.OrchestratorListID)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
