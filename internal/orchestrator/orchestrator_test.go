package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/internal/board"
	"github.com/orchardbot/orchard/internal/config"
	"github.com/orchardbot/orchard/internal/git"
	"github.com/orchardbot/orchard/internal/state"
	"github.com/orchardbot/orchard/internal/workspace"
	"github.com/orchardbot/orchard/pkg/models"
)

// --- fakes -----------------------------------------------------------------

type fakeBoard struct {
	mu       sync.Mutex
	card     *models.WorkItem
	comments []string
	// cardComments is what CardComments returns, newest first.
	cardComments []board.Comment
	movedTo      string
	archived     []string
	// autoContinue prepends a human "continue" comment whenever a pause
	// notice is posted, simulating a prompt operator.
	autoContinue bool
	nextCardID   int
}

func newFakeBoard(card *models.WorkItem) *fakeBoard {
	return &fakeBoard{card: card}
}

func (b *fakeBoard) GetCard(ctx context.Context, cardID string) (*models.WorkItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := *b.card
	return &c, nil
}

func (b *fakeBoard) CardsOnList(ctx context.Context, listID string) ([]*models.WorkItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.card.ListID == listID {
		c := *b.card
		return []*models.WorkItem{&c}, nil
	}
	return nil, nil
}

func (b *fakeBoard) Attachments(ctx context.Context, cardID string) ([]models.Attachment, error) {
	return nil, nil
}

func (b *fakeBoard) AddComment(ctx context.Context, cardID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comments = append(b.comments, text)
	b.cardComments = append([]board.Comment{{Text: text, Member: "orchard"}}, b.cardComments...)
	if b.autoContinue && strings.Contains(text, "Agent limit reached") {
		b.cardComments = append([]board.Comment{{Text: "ok, continue", Member: "alice"}}, b.cardComments...)
	}
	return nil
}

func (b *fakeBoard) CardComments(ctx context.Context, cardID string) ([]board.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]board.Comment, len(b.cardComments))
	copy(out, b.cardComments)
	return out, nil
}

func (b *fakeBoard) MoveCard(ctx context.Context, cardID, listID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.movedTo = listID
	return nil
}

func (b *fakeBoard) CreateList(ctx context.Context, boardID, name string) (*board.List, error) {
	return &board.List{ID: "subtask-list", Name: name}, nil
}

func (b *fakeBoard) CreateCard(ctx context.Context, listID, name, description string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCardID++
	return fmt.Sprintf("card-%d", b.nextCardID), nil
}

func (b *fakeBoard) ArchiveList(ctx context.Context, listID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archived = append(b.archived, listID)
	return nil
}

func (b *fakeBoard) allComments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.comments))
	copy(out, b.comments)
	return out
}

// fakeGit is an in-memory git.Runner. Worktree directories are created
// on disk so agents and marker checks have somewhere to look.
type fakeGit struct {
	mu        sync.Mutex
	branches  map[string]bool
	worktrees map[string]string
	// conflictTitles makes merge-phase merges whose message mentions
	// the title conflict once.
	conflictTitles map[string]bool
	conflicted     bool
}

var _ git.Runner = (*fakeGit)(nil)

func newOrchFakeGit() *fakeGit {
	return &fakeGit{
		branches:       map[string]bool{"main": true},
		worktrees:      map[string]string{},
		conflictTitles: map[string]bool{},
	}
}

func (f *fakeGit) CurrentBranch() (string, error) { return "main", nil }
func (f *fakeGit) CreateBranch(name, startPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	return nil
}
func (f *fakeGit) BranchExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}
func (f *fakeGit) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	return nil
}
func (f *fakeGit) Fetch() error                  { return nil }
func (f *fakeGit) Push(branch, dir string) error { return nil }
func (f *fakeGit) Pull(branch, dir string) error { return nil }

func (f *fakeGit) MergeNoFF(branch, message, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(message, "Merge ") {
		for title := range f.conflictTitles {
			if strings.HasSuffix(message, ": "+title) {
				delete(f.conflictTitles, title)
				f.conflicted = true
				return fmt.Errorf("merge conflict on %s", branch)
			}
		}
	}
	return nil
}
func (f *fakeGit) MergeAbort(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicted = false
	return nil
}
func (f *fakeGit) ConflictedFiles(dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicted {
		return []string{"conflict.txt"}, nil
	}
	return nil, nil
}
func (f *fakeGit) HasConflicts(dir string) (bool, error) { return false, nil }
func (f *fakeGit) CheckoutTheirs(dir string, paths ...string) error { return nil }
func (f *fakeGit) CommitAll(message, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicted = false
	return nil
}
func (f *fakeGit) WorktreeAdd(path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktrees[path] = branch
	return os.MkdirAll(path, 0755)
}
func (f *fakeGit) WorktreeRemove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.worktrees, path)
	return os.RemoveAll(path)
}
func (f *fakeGit) WorktreeList() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.worktrees {
		paths = append(paths, p)
	}
	return paths, nil
}
func (f *fakeGit) WorktreePrune() error { return nil }
func (f *fakeGit) Run(dir string, args ...string) (string, error) { return "", nil }

// fakeRunner routes prompts to handlers by their distinctive phrasing.
type fakeRunner struct {
	mu sync.Mutex
	// decomposition is the JSON the planner returns.
	decomposition string
	// failTitles fails the execution prompt for these subtask titles once.
	failTitles map[string]bool
	// replanDecision is the replanner's JSON answer.
	replanDecision string
	// reviewVerdict is the reviewer's JSON answer.
	reviewVerdict string
	// onConflict, when set, handles the conflict resolution prompt.
	onConflict func(dir string) agent.Result
	// executions counts execution-prompt runs per subtask title.
	executions map[string]int
}

func newFakeRunner(decomposition string) *fakeRunner {
	return &fakeRunner{
		decomposition:  decomposition,
		failTitles:     map[string]bool{},
		replanDecision: `{"action": "cancel", "reason": "unrecoverable"}`,
		reviewVerdict:  `{"critical": false}`,
		executions:     map[string]int{},
	}
}

func (r *fakeRunner) Run(ctx context.Context, dir, prompt string, timeout time.Duration) agent.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.Contains(prompt, "software architect"):
		return agent.Result{Success: true, Output: r.decomposition}
	case strings.Contains(prompt, "senior code reviewer"):
		return agent.Result{Success: true, Output: r.reviewVerdict}
	case strings.Contains(prompt, "merge conflict markers"):
		if r.onConflict != nil {
			return r.onConflict(dir)
		}
		return agent.Result{Success: true, Output: "resolved"}
	case strings.Contains(prompt, "automated code orchestration failed"):
		return agent.Result{Success: true, Output: r.replanDecision}
	default:
		title := executionTitle(prompt)
		r.executions[title]++
		if r.failTitles[title] {
			delete(r.failTitles, title)
			return agent.Result{Success: false, Error: "build broke"}
		}
		return agent.Result{Success: true, Output: "implemented " + title}
	}
}

// executionTitle extracts the subtask title from an execution prompt.
func executionTitle(prompt string) string {
	const marker = "## Your Subtask: "
	i := strings.Index(prompt, marker)
	if i == -1 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.Index(rest, "\n"); j != -1 {
		return rest[:j]
	}
	return rest
}

// --- helpers ---------------------------------------------------------------

const threeTaskPlan = `[
	{"id": "alpha", "title": "alpha", "description": "do alpha", "dependencies": [], "estimated_files": ["a.go"], "priority": 1},
	{"id": "beta", "title": "beta", "description": "do beta", "dependencies": [], "estimated_files": ["b.go"], "priority": 2},
	{"id": "integrate", "title": "integrate", "description": "wire together", "dependencies": ["alpha", "beta"], "estimated_files": [], "priority": 3}
]`

type harness struct {
	cfg    *config.Config
	board  *fakeBoard
	git    *fakeGit
	runner *fakeRunner
	store  *state.Store
	orch   *Orchestrator
	item   *models.WorkItem
}

func newHarness(t *testing.T, plan string) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Repo.Path = dir
	cfg.Repo.StateDir = filepath.Join(dir, "state")
	cfg.Trello.BoardID = "board-1"
	cfg.Trello.BacklogListID = "backlog"
	cfg.Trello.OrchestratorListID = "orch-list"
	cfg.Orchestrator.PollInterval = 5 * time.Millisecond
	cfg.Orchestrator.AgentTimeout = time.Second
	cfg.Orchestrator.DecisionTimeout = time.Second

	item := &models.WorkItem{ID: "card-main", Title: "Add login", Description: "add a login flow", ListID: "orch-list"}
	fb := newFakeBoard(item)
	fg := newOrchFakeGit()
	fr := newFakeRunner(plan)

	store, err := state.Open(filepath.Join(cfg.Repo.StateDir, "orchard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	workspaces, err := workspace.NewManager(cfg.Repo.WorktreeDir(), cfg.Repo.Path, fg)
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}

	orch, err := New(cfg, Deps{
		Board:      fb,
		Git:        fg,
		Store:      store,
		Workspaces: workspaces,
		Coder:      fr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &harness{cfg: cfg, board: fb, git: fg, runner: fr, store: store, orch: orch, item: item}
}

func (h *harness) runToCompletion(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.orch.Run(ctx, h.item); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func commentsContain(comments []string, substr string) bool {
	for _, c := range comments {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// --- registry --------------------------------------------------------------

func TestRegistryReadyOrdering(t *testing.T) {
	run := &models.Run{Subtasks: []*models.Subtask{
		{ID: "a", Title: "a", Priority: 5, Status: models.StatusPending},
		{ID: "b", Title: "b", Priority: 1, Status: models.StatusPending},
		{ID: "c", Title: "c", Priority: 1, Status: models.StatusPending},
		{ID: "d", Title: "d", Priority: 2, Status: models.StatusPending, Dependencies: []string{"a"}},
	}}
	reg := &registry{run: run}

	ready := reg.ready()
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready, got %d", len(ready))
	}
	// Priority ascending, creation order within equal priority.
	if ready[0].ID != "b" || ready[1].ID != "c" || ready[2].ID != "a" {
		t.Errorf("unexpected order: %s %s %s", ready[0].ID, ready[1].ID, ready[2].ID)
	}

	run.Subtasks[0].Status = models.StatusComplete
	ready = reg.ready()
	found := false
	for _, st := range ready {
		if st.ID == "d" {
			found = true
		}
	}
	if !found {
		t.Error("expected d to become ready once a completed")
	}
}

func TestRegistryBlockDependentsTransitive(t *testing.T) {
	run := &models.Run{Subtasks: []*models.Subtask{
		{ID: "a", Title: "a", Status: models.StatusFailed},
		{ID: "b", Title: "b", Status: models.StatusPending, Dependencies: []string{"a"}},
		{ID: "c", Title: "c", Status: models.StatusPending, Dependencies: []string{"b"}},
		{ID: "d", Title: "d", Status: models.StatusPending},
	}}
	reg := &registry{run: run}

	blocked := reg.blockDependents("a")
	if len(blocked) != 2 {
		t.Fatalf("expected 2 blocked, got %d", len(blocked))
	}
	if run.Subtasks[1].Status != models.StatusBlocked || run.Subtasks[2].Status != models.StatusBlocked {
		t.Error("expected b and c to be blocked")
	}
	if run.Subtasks[3].Status != models.StatusPending {
		t.Error("expected d to be untouched")
	}
}

// --- full runs -------------------------------------------------------------

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s (last error %q)", run.Phase, run.LastError)
	}
	if len(run.Subtasks) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(run.Subtasks))
	}
	for _, st := range run.Subtasks {
		if st.Status != models.StatusComplete {
			t.Errorf("subtask %q not complete: %s", st.Title, st.Status)
		}
		if !st.Merged {
			t.Errorf("subtask %q not merged", st.Title)
		}
	}
	if run.TotalSpawned != 3 {
		t.Errorf("expected 3 agents spawned, got %d", run.TotalSpawned)
	}
	if h.board.movedTo != "backlog" {
		t.Errorf("expected card moved back to backlog, got %q", h.board.movedTo)
	}
	if !commentsContain(h.board.allComments(), "Run complete") {
		t.Error("expected final summary comment")
	}

	// The run survived in the store.
	saved, err := h.store.LoadRun("card-main")
	if err != nil || saved == nil {
		t.Fatalf("expected persisted run, got %v, %v", saved, err)
	}
	if saved.Phase != models.PhaseComplete {
		t.Errorf("persisted phase %s", saved.Phase)
	}
}

func TestRunDependencyOrdering(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.runToCompletion(t)

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	if h.runner.executions["integrate"] != 1 {
		t.Fatalf("expected integrate to run once, got %d", h.runner.executions["integrate"])
	}
}

func TestRunReplanRetry(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.runner.failTitles["beta"] = true
	h.runner.replanDecision = `{"action": "retry", "modified_instructions": "try harder", "reason": "transient"}`

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", run.Phase)
	}
	beta := findByTitle(run, "beta")
	if beta == nil {
		t.Fatal("beta subtask missing")
	}
	if beta.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", beta.Attempts)
	}
	if beta.Description != "try harder" {
		t.Errorf("expected modified instructions, got %q", beta.Description)
	}
	if beta.Status != models.StatusComplete || !beta.Merged {
		t.Errorf("expected beta complete and merged: %+v", beta)
	}
}

func TestRunReplanCancelBlocksDependents(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.runner.failTitles["alpha"] = true
	// Force the failure straight past the retry budget.
	h.orch.rep.maxAttempts = 1

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", run.Phase)
	}
	alpha := findByTitle(run, "alpha")
	if alpha.Status != models.StatusBlocked {
		t.Errorf("expected alpha blocked, got %s", alpha.Status)
	}
	integrate := findByTitle(run, "integrate")
	if integrate.Status != models.StatusBlocked {
		t.Errorf("expected integrate blocked, got %s", integrate.Status)
	}
	beta := findByTitle(run, "beta")
	if beta.Status != models.StatusComplete || !beta.Merged {
		t.Errorf("expected beta to complete and merge: %+v", beta)
	}
}

func TestRunAgentLimitPauseAndResume(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.cfg.Orchestrator.AgentLimit = 1
	h.cfg.Orchestrator.MaxAgents = 1
	h.orch.sched.maxAgents = 1
	h.board.autoContinue = true

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", run.Phase)
	}
	comments := h.board.allComments()
	if !commentsContain(comments, "Agent limit reached") {
		t.Error("expected pause notice comment")
	}
	if !commentsContain(comments, "Resumed by human request") {
		t.Error("expected resume comment")
	}
	if run.TotalSpawned != 3 {
		t.Errorf("expected 3 agents spawned in total, got %d", run.TotalSpawned)
	}
}

func TestRunMergeAbortsOnLeftoverMarkers(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.git.conflictTitles["alpha"] = true
	h.runner.onConflict = func(dir string) agent.Result {
		// The agent claims success but leaves a marker behind.
		content := "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> branch\n"
		os.WriteFile(filepath.Join(dir, "conflict.txt"), []byte(content), 0644)
		return agent.Result{Success: true, Output: "resolved"}
	}

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	alpha := findByTitle(run, "alpha")
	if alpha.Merged {
		t.Error("branch with leftover markers must not be merged")
	}
	if !alpha.MergeFailed {
		t.Error("expected merge_failed to be recorded")
	}
	if !commentsContain(h.board.allComments(), "Could not merge") {
		t.Error("expected skip comment")
	}
	// The rest still merged.
	if beta := findByTitle(run, "beta"); !beta.Merged {
		t.Error("expected beta to merge cleanly")
	}
}

func TestRunCriticalReviewAddsFixTasks(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	h.runner.reviewVerdict = `{"critical": true, "issues": [{"title": "fix-import", "description": "repair the broken import in a.go", "estimated_files": ["a.go"], "priority": 1}]}`

	// Only flag critical once; the second review passes.
	origRunner := h.runner
	go func() {
		// After the fix task has been dispatched once, let review pass.
		for {
			origRunner.mu.Lock()
			done := origRunner.executions["fix-import"] > 0
			if done {
				origRunner.reviewVerdict = `{"critical": false}`
			}
			origRunner.mu.Unlock()
			if done {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", run.Phase)
	}
	fix := findByTitle(run, "fix-import")
	if fix == nil {
		t.Fatal("expected review to add a fix subtask")
	}
	if fix.Status != models.StatusComplete || !fix.Merged {
		t.Errorf("expected fix subtask complete and merged: %+v", fix)
	}
	if fix.Priority != 1 {
		t.Errorf("expected fix priority 1, got %d", fix.Priority)
	}
}

func TestRunDecompositionFailureStops(t *testing.T) {
	h := newHarness(t, "this is not json at all")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := h.orch.Run(ctx, h.item)
	if err == nil {
		t.Fatal("expected planning error")
	}
	var de *DecompositionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecompositionError, got %T: %v", err, err)
	}

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseStopped {
		t.Errorf("expected stopped phase, got %s", run.Phase)
	}
	if !commentsContain(h.board.allComments(), "Planning failed") {
		t.Error("expected planning failure comment")
	}
}

func TestRunStopsWhenCardMoved(t *testing.T) {
	h := newHarness(t, threeTaskPlan)
	// The card sits on another list from the start, so the first
	// executing cycle must stop the run.
	h.board.mu.Lock()
	h.board.card.ListID = "somewhere-else"
	h.board.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := h.orch.Run(ctx, h.item)
	if err != ErrStopRequested {
		t.Fatalf("expected ErrStopRequested, got %v", err)
	}

	run := h.orch.CurrentRun()
	if run.Phase != models.PhaseStopped {
		t.Errorf("expected stopped phase, got %s", run.Phase)
	}
	if !commentsContain(h.board.allComments(), "Run stopped") {
		t.Error("expected stop comment")
	}
}

func TestRunResumeSkipsCompletedSubtasks(t *testing.T) {
	h := newHarness(t, threeTaskPlan)

	// Persist a half-finished run for the same card.
	prior := &models.Run{
		ID:           "prior-run",
		CardID:       h.item.ID,
		CardName:     h.item.Title,
		ParentBranch: "orch/add-login-prior",
		Phase:        models.PhaseExecuting,
		Subtasks: []*models.Subtask{
			{ID: "sub-1-prior", Title: "alpha", Description: "do alpha", Priority: 1,
				Status: models.StatusComplete, Branch: "orch/sub-1-prior", Attempts: 1},
			{ID: "sub-2-prior", Title: "beta", Description: "do beta", Priority: 2,
				Status: models.StatusRunning, Branch: "orch/sub-2-prior", Attempts: 1},
			{ID: "sub-3-prior", Title: "integrate", Description: "wire", Priority: 3,
				Dependencies: []string{"alpha", "beta"}, Status: models.StatusPending},
		},
	}
	h.git.branches["orch/add-login-prior"] = true
	h.git.branches["orch/sub-1-prior"] = true
	if err := h.store.SaveRun(prior); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	h.runToCompletion(t)

	run := h.orch.CurrentRun()
	if run.ID != "prior-run" {
		t.Fatalf("expected resumed run, got %s", run.ID)
	}
	if run.Phase != models.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", run.Phase)
	}

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	if h.runner.executions["alpha"] != 0 {
		t.Errorf("completed subtask must not re-run, ran %d times", h.runner.executions["alpha"])
	}
	if h.runner.executions["beta"] != 1 {
		t.Errorf("orphaned running subtask should run once, ran %d times", h.runner.executions["beta"])
	}

	beta := findByTitle(run, "beta")
	if beta.Attempts != 2 {
		t.Errorf("attempts must survive the restart, got %d", beta.Attempts)
	}
}

// --- small helpers ----------------------------------------------------------

func findByTitle(run *models.Run, title string) *models.Subtask {
	for _, st := range run.Subtasks {
		if st.Title == title {
			return st
		}
	}
	return nil
}
