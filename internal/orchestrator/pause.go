package orchestrator

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PauseController manages pause/resume/stop state for a run.
// Safe for concurrent use; the resume watcher and signal handler
// flip flags while the poll loop reads them.
type PauseController struct {
	mu      sync.RWMutex
	paused  bool
	stopped bool
}

// NewPauseController creates a PauseController.
func NewPauseController() *PauseController {
	return &PauseController{}
}

// Pause stops new agents from being dispatched.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		log.Printf("[orchestrator] paused - no new agents will be dispatched")
	}
}

// Resume re-enables agent dispatch after a pause.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		log.Printf("[orchestrator] resumed - agent dispatch enabled")
	}
}

// Stop signals that the run should end at the next poll cycle.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

// IsPaused returns whether dispatch is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// IsStopped returns whether a stop was requested.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// ResumeWatcher resumes a paused run when a marker file named
// <runKey>.resume appears in the state directory. This gives operators
// a local resume path that works without board access.
type ResumeWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchResumeMarker starts watching dir for the marker file and calls
// onResume when it appears. The marker is removed after triggering so
// it acts as a one-shot signal.
func WatchResumeMarker(dir, runKey string, onResume func()) (*ResumeWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create resume watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	marker := filepath.Join(dir, runKey+".resume")
	rw := &ResumeWatcher{watcher: watcher, done: make(chan struct{})}

	// The marker may predate the watcher.
	if _, err := os.Stat(marker); err == nil {
		os.Remove(marker)
		onResume()
	}

	go func() {
		defer close(rw.done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == marker && ev.Op.Has(fsnotify.Create|fsnotify.Write) {
					os.Remove(marker)
					log.Printf("[orchestrator] resume marker detected: %s", marker)
					onResume()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[orchestrator] resume watcher error: %v", err)
			}
		}
	}()

	return rw, nil
}

// Close stops the watcher.
func (w *ResumeWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
