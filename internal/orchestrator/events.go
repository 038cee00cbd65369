package orchestrator

import "time"

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventPhaseChanged indicates the run moved to a new phase.
	EventPhaseChanged EventType = "phase_changed"
	// EventAgentStarted indicates an agent was dispatched for a subtask.
	EventAgentStarted EventType = "agent_started"
	// EventAgentFinished indicates an agent returned a result.
	EventAgentFinished EventType = "agent_finished"
	// EventReplanned indicates the replanner handled a failure.
	EventReplanned EventType = "replanned"
	// EventMerged indicates a branch was integrated.
	EventMerged EventType = "merged"
	// EventMergeSkipped indicates a branch was abandoned due to conflicts.
	EventMergeSkipped EventType = "merge_skipped"
	// EventPaused indicates dispatch paused at the agent limit.
	EventPaused EventType = "paused"
	// EventResumed indicates a human resumed a paused run.
	EventResumed EventType = "resumed"
	// EventStatusPosted indicates a dashboard comment was published.
	EventStatusPosted EventType = "status_posted"
	// EventRunDone indicates the run reached a terminal phase.
	EventRunDone EventType = "run_done"
)

// Event is emitted by the orchestrator as the run progresses. The CLI
// consumes these for live output; dropping them is safe.
type Event struct {
	Type      EventType
	SubtaskID string
	Title     string
	Message   string
	Err       error
	Timestamp time.Time
}

// emit sends an event without blocking. Events are advisory; a slow or
// absent consumer must never stall the poll loop.
func (o *Orchestrator) emit(ev Event) {
	if o.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case o.events <- ev:
	default:
	}
}

// Events returns the channel carrying run progress events.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}
