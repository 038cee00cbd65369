package orchestrator

import (
	"context"
	"time"

	"github.com/orchardbot/orchard/internal/agent"
)

// scheduler tracks in-flight agent workers. Each dispatch runs the
// agent in its own goroutine and delivers the result on a buffered
// channel, so harvesting never blocks and an untouched result never
// leaks a goroutine.
type scheduler struct {
	runner    agent.Runner
	timeout   time.Duration
	maxAgents int

	// workers maps subtask ID to its pending result channel. Only the
	// coordinating goroutine touches this map.
	workers map[string]chan agent.Result
}

func newScheduler(runner agent.Runner, timeout time.Duration, maxAgents int) *scheduler {
	return &scheduler{
		runner:    runner,
		timeout:   timeout,
		maxAgents: maxAgents,
		workers:   make(map[string]chan agent.Result),
	}
}

// slots returns how many more agents may be dispatched right now.
func (s *scheduler) slots() int {
	return s.maxAgents - len(s.workers)
}

// inFlight returns the number of running workers.
func (s *scheduler) inFlight() int {
	return len(s.workers)
}

// dispatch starts an agent for the subtask in the given directory.
func (s *scheduler) dispatch(ctx context.Context, subtaskID, dir, prompt string) {
	ch := make(chan agent.Result, 1)
	s.workers[subtaskID] = ch
	go func() {
		ch <- s.runner.Run(ctx, dir, prompt, s.timeout)
	}()
}

// harvest collects results from workers that have finished, without
// blocking on those still running.
func (s *scheduler) harvest() map[string]agent.Result {
	done := make(map[string]agent.Result)
	for id, ch := range s.workers {
		select {
		case res := <-ch:
			done[id] = res
			delete(s.workers, id)
		default:
		}
	}
	return done
}

// drain blocks until every in-flight worker has returned, bounded by
// the context. Used on shutdown so agents are not orphaned silently.
func (s *scheduler) drain(ctx context.Context) map[string]agent.Result {
	done := make(map[string]agent.Result)
	for id, ch := range s.workers {
		select {
		case res := <-ch:
			done[id] = res
		case <-ctx.Done():
			return done
		}
		delete(s.workers, id)
	}
	return done
}
