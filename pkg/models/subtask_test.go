package models

import "testing"

func TestSubtaskStatusValid(t *testing.T) {
	valid := []SubtaskStatus{
		StatusPending, StatusReady, StatusRunning, StatusComplete,
		StatusFailed, StatusBlocked, StatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if SubtaskStatus("paused").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestSubtaskStatusTerminal(t *testing.T) {
	terminal := []SubtaskStatus{StatusComplete, StatusBlocked, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	nonTerminal := []SubtaskStatus{StatusPending, StatusReady, StatusRunning, StatusFailed}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestPhaseValid(t *testing.T) {
	for _, p := range []Phase{
		PhasePlanning, PhaseExecuting, PhaseReviewing,
		PhaseMerging, PhaseComplete, PhaseStopped,
	} {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}

	if Phase("failed").Valid() {
		t.Error("expected unknown phase to be invalid")
	}
}

func TestPhaseTerminal(t *testing.T) {
	if !PhaseComplete.Terminal() || !PhaseStopped.Terminal() {
		t.Error("expected complete and stopped to be terminal")
	}
	if PhaseExecuting.Terminal() {
		t.Error("expected executing to be non-terminal")
	}
}

func TestRunAllTerminal(t *testing.T) {
	run := &Run{
		Subtasks: []*Subtask{
			{ID: "a", Status: StatusComplete},
			{ID: "b", Status: StatusRunning},
		},
	}
	if run.AllTerminal() {
		t.Error("expected run with running subtask to be non-terminal")
	}

	run.Subtasks[1].Status = StatusCancelled
	if !run.AllTerminal() {
		t.Error("expected run with complete+cancelled subtasks to be terminal")
	}
}

func TestRunAllTerminalUnroutedFailure(t *testing.T) {
	run := &Run{
		Subtasks: []*Subtask{
			{ID: "a", Status: StatusFailed, Replanned: false},
		},
	}
	if run.AllTerminal() {
		t.Error("failed subtask not yet routed to replanner should block terminal check")
	}

	run.Subtasks[0].Replanned = true
	if !run.AllTerminal() {
		t.Error("replanned failure left as failed counts as terminal")
	}
}

func TestRunSubtaskLookup(t *testing.T) {
	run := &Run{Subtasks: []*Subtask{{ID: "x", Title: "X"}}}
	if st := run.Subtask("x"); st == nil || st.Title != "X" {
		t.Errorf("expected lookup to find subtask, got %+v", st)
	}
	if st := run.Subtask("missing"); st != nil {
		t.Errorf("expected nil for missing subtask, got %+v", st)
	}
}
