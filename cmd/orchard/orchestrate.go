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
	"github.com/orchardbot/orchard/pkg/models"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <card-id>",
	Short: "Orchestrate a single Trello card to completion",
	Long: `Run one card through the full lifecycle: decompose it into
subtasks, execute them with parallel agents in isolated worktrees,
review and merge the results, and open a pull request.

An unfinished run for the same card is resumed, not replanned:
completed subtasks keep their results and only unfinished work is
dispatched again.

Press Ctrl-C to stop gracefully; in-flight agents are drained and the
run can be resumed later.

Examples:
  orchard orchestrate 65a1b2c3d4e5f6a7b8c9d0e1
  orchard resume 65a1b2c3d4e5f6a7b8c9d0e1   # lift an agent-limit pause`,
	Args: cobra.ExactArgs(1),
	RunE: runOrchestrate,
}

func init() {
	addTuningFlags(orchestrateCmd)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cardID := args[0]

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

	item, err := deps.Board.GetCard(context.Background(), cardID)
	if err != nil {
		return fmt.Errorf("fetch card %s: %w", cardID, err)
	}

	orch, err := orchestrator.New(cfg, deps)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println()
		color.Yellow("Stop requested, draining agents...")
		orch.Stop()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range orch.Events() {
			printEvent(ev)
		}
	}()

	color.Cyan("Orchestrating %q (%s)", item.Title, item.ID)
	err = orch.Run(context.Background(), item)
	<-done

	if errors.Is(err, orchestrator.ErrStopRequested) {
		color.Yellow("Run stopped. Run the same command again to resume.")
		return nil
	}
	if err != nil {
		return err
	}

	run := orch.CurrentRun()
	if run.Phase == models.PhaseComplete {
		color.Green("Run complete on branch %s", run.ParentBranch)
	}
	return nil
}

// printEvent renders one run event for the terminal.
func printEvent(ev orchestrator.Event) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case orchestrator.EventPhaseChanged:
		color.Cyan("%s phase: %s", stamp, ev.Message)
	case orchestrator.EventAgentStarted:
		color.Yellow("%s agent started: %s (%s)", stamp, ev.Title, ev.Message)
	case orchestrator.EventAgentFinished:
		if ev.Message == string(models.StatusComplete) {
			color.Green("%s agent finished: %s", stamp, ev.Title)
		} else {
			color.Red("%s agent failed: %s", stamp, ev.Title)
		}
	case orchestrator.EventReplanned:
		color.Yellow("%s replanned: %s", stamp, ev.Title)
	case orchestrator.EventMerged:
		color.Green("%s merged: %s", stamp, ev.Title)
	case orchestrator.EventMergeSkipped:
		color.Red("%s merge skipped: %s (%s)", stamp, ev.Title, ev.Message)
	case orchestrator.EventPaused:
		color.Yellow("%s paused at agent limit, waiting for a human", stamp)
	case orchestrator.EventResumed:
		color.Green("%s resumed", stamp)
	case orchestrator.EventRunDone:
		color.Cyan("%s run finished: %s", stamp, ev.Message)
	}
}
