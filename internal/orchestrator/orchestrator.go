// Package orchestrator coordinates the full run lifecycle: planning a
// work item into subtasks, executing them with parallel agents in
// isolated worktrees, replanning failures, reviewing the combined
// result, and merging everything onto an integration branch.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orchardbot/orchard/internal/agent"
	"github.com/orchardbot/orchard/internal/board"
	"github.com/orchardbot/orchard/internal/codehost"
	"github.com/orchardbot/orchard/internal/config"
	"github.com/orchardbot/orchard/internal/git"
	"github.com/orchardbot/orchard/internal/state"
	"github.com/orchardbot/orchard/internal/workspace"
	"github.com/orchardbot/orchard/pkg/models"
)

// BotTag prefixes every comment the orchestrator posts, so its own
// comments can be told apart from human ones.
const BotTag = "[orchestrator-bot]"

// Deps carries the orchestrator's collaborators. Board, Git, Store,
// Workspaces, and Coder are required; Host and Decider are optional
// (no Host skips the pull request, no Decider routes decisions
// through the Coder).
type Deps struct {
	Board      board.Board
	Host       codehost.Host
	Git        git.Runner
	Store      *state.Store
	Workspaces *workspace.Manager
	// Coder executes file-modifying agent work.
	Coder agent.Runner
	// Decider answers text-only decision prompts.
	Decider agent.Runner
}

// Orchestrator drives one run from detection to COMPLETE or STOPPED.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	run   *models.Run
	reg   *registry
	sched *scheduler
	dec   *decomposer
	rep   *replanner
	pause *PauseController

	// extraBudget extends the agent limit each time a human resumes a
	// paused run. Not persisted; a restarted run pauses again at the
	// base limit and waits for another resume.
	extraBudget int

	events chan Event
}

// New creates an orchestrator. It validates required dependencies and
// fills in the optional ones.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Board == nil {
		return nil, fmt.Errorf("board client is required")
	}
	if deps.Git == nil {
		return nil, fmt.Errorf("git runner is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Workspaces == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	if deps.Coder == nil {
		return nil, fmt.Errorf("coding agent runner is required")
	}
	if deps.Decider == nil {
		deps.Decider = deps.Coder
	}

	oc := cfg.Orchestrator
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		sched: newScheduler(deps.Coder, oc.AgentTimeout, oc.MaxAgents),
		dec: &decomposer{
			runner:  deps.Decider,
			repoDir: cfg.Repo.Path,
			timeout: oc.DecisionTimeout,
			retries: oc.DecomposeRetries,
		},
		rep: &replanner{
			runner:      deps.Decider,
			repoDir:     cfg.Repo.Path,
			timeout:     oc.DecisionTimeout,
			maxAttempts: oc.MaxAttempts,
		},
		pause:  NewPauseController(),
		events: make(chan Event, 100),
	}, nil
}

// Stop requests the run end at the next poll cycle. Safe to call from
// a signal handler goroutine.
func (o *Orchestrator) Stop() {
	o.pause.Stop()
}

// Run orchestrates the work item to a terminal phase. An unfinished
// persisted run for the same card is resumed instead of replanned.
func (o *Orchestrator) Run(ctx context.Context, item *models.WorkItem) error {
	defer close(o.events)

	if err := o.loadOrCreate(item); err != nil {
		return err
	}

	resumeWatcher, err := WatchResumeMarker(o.cfg.Repo.StateDir, o.run.CardID, func() {
		o.pause.Resume()
	})
	if err != nil {
		log.Printf("[orchestrator] resume marker watching disabled: %v", err)
	} else {
		defer resumeWatcher.Close()
	}

	for !o.run.Phase.Terminal() {
		switch o.run.Phase {
		case models.PhasePlanning:
			if err := o.plan(ctx, item); err != nil {
				o.stopRun(err.Error())
				o.persist()
				return err
			}
		case models.PhaseExecuting:
			if err := o.executeCycle(ctx); err != nil {
				o.persist()
				return err
			}
		case models.PhaseReviewing:
			o.review(ctx)
		case models.PhaseMerging:
			o.merge(ctx)
			o.finish(ctx)
		default:
			o.stopRun(fmt.Sprintf("unknown phase %q", o.run.Phase))
		}
		o.persist()
	}

	o.emit(Event{Type: EventRunDone, Message: string(o.run.Phase)})
	return nil
}

// CurrentRun returns the run state. Valid after Run begins.
func (o *Orchestrator) CurrentRun() *models.Run {
	return o.run
}

// loadOrCreate resumes an unfinished persisted run for the card or
// starts a fresh one.
func (o *Orchestrator) loadOrCreate(item *models.WorkItem) error {
	existing, err := o.deps.Store.LoadRun(item.ID)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}

	if existing != nil && !existing.Phase.Terminal() {
		o.run = existing
		o.recoverOrphans()
		log.Printf("[orchestrator] resuming run %s for %q in phase %s",
			o.run.ID, o.run.CardName, o.run.Phase)
	} else {
		o.run = &models.Run{
			ID:           uuid.New().String()[:8],
			CardID:       item.ID,
			CardName:     item.Title,
			OriginListID: o.cfg.Trello.BacklogListID,
			Phase:        models.PhasePlanning,
			Subtasks:     []*models.Subtask{},
		}
		log.Printf("[orchestrator] starting run %s for %q", o.run.ID, o.run.CardName)
	}

	o.reg = &registry{run: o.run}
	return nil
}

// recoverOrphans resets subtasks that were mid-flight when the previous
// process died and clears their dead worktrees. Attempts are kept so
// the retry cap still holds across restarts.
func (o *Orchestrator) recoverOrphans() {
	for _, st := range o.run.Subtasks {
		if st.Status == models.StatusRunning {
			st.Status = models.StatusPending
			st.WorktreePath = ""
		} else if !st.Status.Terminal() {
			st.WorktreePath = ""
		}
	}
	if removed, err := o.deps.Workspaces.CleanupOrphans(); err == nil && len(removed) > 0 {
		log.Printf("[orchestrator] cleaned up %d orphaned worktree(s)", len(removed))
	}
}

// plan decomposes the work item, prepares the integration branch, and
// publishes the plan to the board.
func (o *Orchestrator) plan(ctx context.Context, item *models.WorkItem) error {
	attachmentsInfo := o.describeAttachments(ctx, item.ID)

	subtasks, err := o.dec.decompose(ctx, item, attachmentsInfo)
	if err != nil {
		o.postComment(ctx, fmt.Sprintf("Planning failed: %v. The card was left in place for a human to pick up.", err))
		return err
	}

	baseBranch, berr := o.deps.Git.CurrentBranch()
	if berr != nil {
		return fmt.Errorf("determine base branch: %w", berr)
	}
	parent := branchName("orch/"+slug(item.Title), o.run.ID)
	_ = o.deps.Git.Fetch()
	if exists, _ := o.deps.Git.BranchExists(parent); !exists {
		if err := o.deps.Git.CreateBranch(parent, baseBranch); err != nil {
			return fmt.Errorf("create integration branch %s: %w", parent, err)
		}
	}
	o.run.ParentBranch = parent
	if err := o.deps.Git.Push(parent, ""); err != nil {
		log.Printf("[orchestrator] could not push %s: %v", parent, err)
	}

	if list, err := o.deps.Board.CreateList(ctx, o.cfg.Trello.BoardID, "Agents: "+item.Title); err == nil {
		o.run.SubtaskListID = list.ID
	} else {
		log.Printf("[orchestrator] could not create subtask list: %v", err)
	}

	o.registerSubtasks(ctx, subtasks)

	o.run.Phase = models.PhaseExecuting
	o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseExecuting)})
	o.postStatus(ctx, fmt.Sprintf("Decomposed into %d subtasks on branch `%s`.", len(subtasks), parent))
	return nil
}

// registerSubtasks assigns stable IDs, appends the subtasks to the run,
// and creates their board cards best-effort.
func (o *Orchestrator) registerSubtasks(ctx context.Context, subtasks []*models.Subtask) {
	base := len(o.run.Subtasks)
	for i, st := range subtasks {
		st.ID = fmt.Sprintf("sub-%d-%s", base+i+1, shortID(o.run.ID))
		o.run.Subtasks = append(o.run.Subtasks, st)

		if o.run.SubtaskListID != "" {
			if cardID, err := o.deps.Board.CreateCard(ctx, o.run.SubtaskListID, st.Title, st.Description); err == nil {
				st.CardID = cardID
			}
		}
	}
}

// executeCycle runs one poll cycle of the executing phase.
func (o *Orchestrator) executeCycle(ctx context.Context) error {
	if stopped, reason := o.stopRequested(ctx); stopped {
		o.drainAgents(ctx)
		o.stopRun(reason)
		o.postComment(ctx, "Run stopped: "+reason)
		return ErrStopRequested
	}

	o.harvest(ctx)
	o.replanFailures(ctx)

	if o.run.AllTerminal() && o.sched.inFlight() == 0 {
		o.run.Phase = models.PhaseReviewing
		o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseReviewing)})
		return nil
	}

	o.enforceAgentLimit(ctx)
	if !o.pause.IsPaused() {
		o.dispatchReady(ctx)
	}

	o.run.Cycle++
	if o.cfg.Orchestrator.StatusEvery > 0 && o.run.Cycle%o.cfg.Orchestrator.StatusEvery == 0 {
		o.postStatus(ctx, "")
	}

	o.persist()
	return o.sleep(ctx)
}

// stopRequested checks both the local stop flag and the card's list.
// Moving the card off the monitored list is the human stop switch.
func (o *Orchestrator) stopRequested(ctx context.Context) (bool, string) {
	if o.pause.IsStopped() {
		return true, "termination signal received"
	}
	card, err := o.deps.Board.GetCard(ctx, o.run.CardID)
	if err != nil {
		// Transient board errors must not kill the run.
		log.Printf("[orchestrator] stop check failed: %v", err)
		return false, ""
	}
	if o.cfg.Trello.OrchestratorListID != "" && card.ListID != o.cfg.Trello.OrchestratorListID {
		return true, "card was moved off the orchestrator list"
	}
	return false, ""
}

// harvest applies finished agent results to the run.
func (o *Orchestrator) harvest(ctx context.Context) {
	for id, res := range o.sched.harvest() {
		st := o.run.Subtask(id)
		if st == nil {
			continue
		}
		o.applyResult(ctx, st, res)
	}
}

func (o *Orchestrator) applyResult(ctx context.Context, st *models.Subtask, res agent.Result) {
	st.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if res.Success {
		st.Status = models.StatusComplete
		st.ResultSummary = truncate(res.Output, 2000)
		st.Error = ""
		if err := o.deps.Git.Push(st.Branch, st.WorktreePath); err != nil {
			log.Printf("[orchestrator] could not push %s: %v", st.Branch, err)
		}
		log.Printf("[orchestrator] subtask %q complete", st.Title)
	} else {
		st.Status = models.StatusFailed
		st.Error = res.Error
		log.Printf("[orchestrator] subtask %q failed: %s", st.Title, st.Error)
	}
	o.emit(Event{Type: EventAgentFinished, SubtaskID: st.ID, Title: st.Title, Message: string(st.Status)})

	if st.CardID != "" {
		note := "Completed."
		if st.Status == models.StatusFailed {
			note = "Failed: " + truncate(st.Error, 500)
		}
		if err := o.deps.Board.AddComment(ctx, st.CardID, BotTag+" "+note); err != nil {
			log.Printf("[orchestrator] could not comment on subtask card: %v", err)
		}
	}
}

// replanFailures routes unhandled failures through the replanner and
// registers any bridge subtasks it produces.
func (o *Orchestrator) replanFailures(ctx context.Context) {
	for _, failed := range o.reg.unroutedFailures() {
		bridges := o.rep.handleFailure(ctx, o.run, o.reg, failed)
		o.emit(Event{Type: EventReplanned, SubtaskID: failed.ID, Title: failed.Title})
		if len(bridges) > 0 {
			o.registerSubtasks(ctx, bridges)
			o.postComment(ctx, fmt.Sprintf("Replanned %q: added %d bridging subtask(s).", failed.Title, len(bridges)))
		}
	}
}

// enforceAgentLimit pauses dispatch once the total spawn budget is
// exhausted and resumes when a human posts a comment containing
// "continue" (the resume marker file is the other path in).
func (o *Orchestrator) enforceAgentLimit(ctx context.Context) {
	limit := o.cfg.Orchestrator.AgentLimit
	if limit <= 0 {
		return
	}

	if o.pause.IsPaused() {
		if o.continueRequested(ctx) {
			o.pause.Resume()
		}
		// The resume marker watcher may also have lifted the pause.
		if !o.pause.IsPaused() {
			o.extraBudget += limit
			o.emit(Event{Type: EventResumed})
			o.postComment(ctx, "Resumed by human request. Agent budget extended.")
		}
		return
	}

	if o.run.TotalSpawned >= limit+o.extraBudget && len(o.reg.ready()) > 0 {
		o.pause.Pause()
		o.emit(Event{Type: EventPaused})
		o.postComment(ctx, fmt.Sprintf(
			"Agent limit reached (%d agents spawned). Pausing dispatch. "+
				"Reply with a comment containing \"continue\" to resume.", o.run.TotalSpawned))
	}
}

// continueRequested scans card comments newest-first for a human
// "continue" posted after the pause notice.
func (o *Orchestrator) continueRequested(ctx context.Context) bool {
	comments, err := o.deps.Board.CardComments(ctx, o.run.CardID)
	if err != nil {
		log.Printf("[orchestrator] could not read comments: %v", err)
		return false
	}
	for _, c := range comments {
		if strings.HasPrefix(c.Text, BotTag) {
			if strings.Contains(c.Text, "Agent limit reached") {
				return false
			}
			continue
		}
		if strings.Contains(strings.ToLower(c.Text), "continue") {
			return true
		}
	}
	return false
}

// dispatchReady starts agents for ready subtasks, bounded by worker
// slots and the remaining spawn budget.
func (o *Orchestrator) dispatchReady(ctx context.Context) {
	limit := o.cfg.Orchestrator.AgentLimit
	for _, st := range o.reg.ready() {
		if o.sched.slots() <= 0 {
			return
		}
		if limit > 0 && o.run.TotalSpawned >= limit+o.extraBudget {
			return
		}
		if err := o.startAgent(ctx, st); err != nil {
			st.Status = models.StatusFailed
			st.Error = err.Error()
			log.Printf("[orchestrator] could not start agent for %q: %v", st.Title, err)
		}
	}
}

// startAgent claims a workspace for the subtask and dispatches a worker.
func (o *Orchestrator) startAgent(ctx context.Context, st *models.Subtask) error {
	branch := st.Branch
	if branch == "" {
		branch = branchName("orch/"+slug(st.ID), o.run.ID)
	}

	dir := st.WorktreePath
	if dir == "" || !o.deps.Workspaces.Claimed(dir) {
		_ = o.deps.Git.Fetch()
		ws, err := o.deps.Workspaces.Claim(st.ID, branch, o.run.ParentBranch)
		if err != nil {
			return err
		}
		dir = ws.Path
	}

	st.Status = models.StatusRunning
	st.Branch = branch
	st.WorktreePath = dir
	st.Attempts++
	st.StartedAt = time.Now().UTC().Format(time.RFC3339)
	o.run.TotalSpawned++

	o.sched.dispatch(ctx, st.ID, dir, agent.ExecutionPrompt(o.run.CardName, st))
	o.emit(Event{Type: EventAgentStarted, SubtaskID: st.ID, Title: st.Title, Message: branch})
	log.Printf("[orchestrator] started agent for %q on %s", st.Title, branch)
	return nil
}

// drainAgents waits briefly for in-flight agents so their results are
// recorded before the run stops.
func (o *Orchestrator) drainAgents(ctx context.Context) {
	if o.sched.inFlight() == 0 {
		return
	}
	drainCtx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.AgentTimeout)
	defer cancel()
	for id, res := range o.sched.drain(drainCtx) {
		if st := o.run.Subtask(id); st != nil {
			o.applyResult(drainCtx, st, res)
		}
	}
}

// stopRun moves the run to STOPPED with the given reason.
func (o *Orchestrator) stopRun(reason string) {
	o.run.Phase = models.PhaseStopped
	o.run.LastError = reason
	o.emit(Event{Type: EventPhaseChanged, Message: string(models.PhaseStopped)})
	log.Printf("[orchestrator] run %s stopped: %s", o.run.ID, reason)
}

// sleep waits one poll interval, returning early on ctx cancellation.
func (o *Orchestrator) sleep(ctx context.Context) error {
	select {
	case <-time.After(o.cfg.Orchestrator.PollInterval):
		return nil
	case <-ctx.Done():
		o.stopRun("context cancelled")
		return ctx.Err()
	}
}

// persist saves the run, logging rather than failing on error; state
// loss degrades resumability but must not abort live agents.
func (o *Orchestrator) persist() {
	if err := o.deps.Store.SaveRun(o.run); err != nil {
		log.Printf("[orchestrator] could not persist run state: %v", err)
	}
}

// describeAttachments renders card attachments as planner context.
func (o *Orchestrator) describeAttachments(ctx context.Context, cardID string) string {
	atts, err := o.deps.Board.Attachments(ctx, cardID)
	if err != nil || len(atts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range atts {
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, a.URL)
	}
	return b.String()
}

// slug maps text to a lowercase branch-safe slug.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// shortID returns the first six characters of a run ID.
func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

// branchName builds "<base>-<runid6>" capped at 50 characters, keeping
// the run suffix so concurrent runs never collide.
func branchName(base, runID string) string {
	suffix := "-" + shortID(runID)
	if len(base)+len(suffix) > 50 {
		base = base[:50-len(suffix)]
	}
	return base + suffix
}

// truncate limits s to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
