package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orchardbot/orchard/internal/config"
)

// Watcher scans the monitored board list and orchestrates each new
// card it finds, one run at a time. Cards whose runs already reached a
// terminal phase are skipped until they leave and re-enter the list.
type Watcher struct {
	cfg  *config.Config
	deps Deps

	mu      sync.Mutex
	current *Orchestrator
	stopped bool

	// OnEvent, when set, receives events from each run for live output.
	OnEvent func(Event)
}

// NewWatcher creates a watcher over the configured orchestrator list.
func NewWatcher(cfg *config.Config, deps Deps) (*Watcher, error) {
	if cfg.Trello.OrchestratorListID == "" {
		return nil, fmt.Errorf("trello.orchestrator_list_id must be set for watch mode")
	}
	return &Watcher{cfg: cfg, deps: deps}, nil
}

// Stop ends the watch loop and the run in progress, if any.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.current != nil {
		w.current.Stop()
	}
}

func (w *Watcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Run scans the list until stopped. Individual run failures are logged
// and do not end the watch.
func (w *Watcher) Run(ctx context.Context) error {
	seen := make(map[string]bool)
	log.Printf("[watcher] watching list %s every %s",
		w.cfg.Trello.OrchestratorListID, w.cfg.Orchestrator.WatchInterval)

	for {
		if w.isStopped() {
			return nil
		}

		cards, err := w.deps.Board.CardsOnList(ctx, w.cfg.Trello.OrchestratorListID)
		if err != nil {
			log.Printf("[watcher] could not scan list: %v", err)
		}

		for _, card := range cards {
			if seen[card.ID] || w.isStopped() {
				continue
			}

			if run, err := w.deps.Store.LoadRun(card.ID); err == nil && run != nil && run.Phase.Terminal() {
				seen[card.ID] = true
				continue
			}

			if err := w.orchestrate(ctx, card.ID); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				log.Printf("[watcher] run for card %s ended with error: %v", card.ID, err)
			}
			seen[card.ID] = true
		}

		select {
		case <-time.After(w.cfg.Orchestrator.WatchInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// orchestrate runs one card to a terminal phase.
func (w *Watcher) orchestrate(ctx context.Context, cardID string) error {
	item, err := w.deps.Board.GetCard(ctx, cardID)
	if err != nil {
		return fmt.Errorf("fetch card %s: %w", cardID, err)
	}

	orch, err := New(w.cfg, w.deps)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.current = orch
	w.mu.Unlock()

	if w.OnEvent != nil {
		go func() {
			for ev := range orch.Events() {
				w.OnEvent(ev)
			}
		}()
	}

	err = orch.Run(ctx, item)

	w.mu.Lock()
	w.current = nil
	w.mu.Unlock()

	if errors.Is(err, ErrStopRequested) {
		return nil
	}
	return err
}
