// Package state persists orchestration runs in SQLite. The store is
// written after every poll cycle so a restart resumes mid-run without
// re-decomposing or re-running completed subtasks.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orchardbot/orchard/pkg/models"
)

// Store wraps an SQLite database holding run state.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the store at the given path, creating parent directories
// and applying pending migrations. WAL mode is enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies pending schema migrations.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2Subtasks},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	card_id TEXT NOT NULL UNIQUE,
	card_name TEXT NOT NULL,
	parent_branch TEXT NOT NULL DEFAULT '',
	origin_list_id TEXT NOT NULL DEFAULT '',
	subtask_list_id TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL,
	cycle INTEGER NOT NULL DEFAULT 0,
	total_spawned INTEGER NOT NULL DEFAULT 0,
	status_posts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_phase ON runs(phase);
`

const migrationV2Subtasks = `
CREATE TABLE IF NOT EXISTS subtasks (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	dependencies TEXT NOT NULL DEFAULT '[]',
	estimated_files TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 50,
	status TEXT NOT NULL,
	card_id TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL DEFAULT '',
	worktree_path TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	merged INTEGER NOT NULL DEFAULT 0,
	merge_failed INTEGER NOT NULL DEFAULT 0,
	replanned INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(status);
`

// SaveRun upserts the run and rewrites its subtasks atomically.
func (s *Store) SaveRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, card_id, card_name, parent_branch, origin_list_id,
			subtask_list_id, phase, cycle, total_spawned, status_posts, last_error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_name = excluded.card_name,
			parent_branch = excluded.parent_branch,
			origin_list_id = excluded.origin_list_id,
			subtask_list_id = excluded.subtask_list_id,
			phase = excluded.phase,
			cycle = excluded.cycle,
			total_spawned = excluded.total_spawned,
			status_posts = excluded.status_posts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, run.ID, run.CardID, run.CardName, run.ParentBranch, run.OriginListID,
		run.SubtaskListID, string(run.Phase), run.Cycle, run.TotalSpawned,
		run.StatusPosts, run.LastError, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM subtasks WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clear subtasks for %s: %w", run.ID, err)
	}

	for i, st := range run.Subtasks {
		deps, err := json.Marshal(st.Dependencies)
		if err != nil {
			return fmt.Errorf("encode dependencies: %w", err)
		}
		files, err := json.Marshal(st.EstimatedFiles)
		if err != nil {
			return fmt.Errorf("encode estimated files: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO subtasks (run_id, id, position, title, description,
				dependencies, estimated_files, priority, status, card_id, branch,
				worktree_path, attempts, error, result_summary, merged,
				merge_failed, replanned, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, st.ID, i, st.Title, st.Description, string(deps), string(files),
			st.Priority, string(st.Status), st.CardID, st.Branch, st.WorktreePath,
			st.Attempts, st.Error, st.ResultSummary, boolToInt(st.Merged),
			boolToInt(st.MergeFailed), boolToInt(st.Replanned),
			st.StartedAt, st.CompletedAt)
		if err != nil {
			return fmt.Errorf("save subtask %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

// LoadRun returns the run for the given card, or nil if none exists.
func (s *Store) LoadRun(cardID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRunWhere("card_id = ?", cardID)
}

// LoadRunByID returns the run with the given ID, or nil if none exists.
func (s *Store) LoadRunByID(id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRunWhere("id = ?", id)
}

func (s *Store) loadRunWhere(where string, arg any) (*models.Run, error) {
	run := &models.Run{}
	var phase string
	row := s.conn.QueryRow(`
		SELECT id, card_id, card_name, parent_branch, origin_list_id,
			subtask_list_id, phase, cycle, total_spawned, status_posts,
			last_error, created_at, updated_at
		FROM runs WHERE `+where, arg)
	err := row.Scan(&run.ID, &run.CardID, &run.CardName, &run.ParentBranch,
		&run.OriginListID, &run.SubtaskListID, &phase, &run.Cycle,
		&run.TotalSpawned, &run.StatusPosts, &run.LastError,
		&run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	run.Phase = models.Phase(phase)

	rows, err := s.conn.Query(`
		SELECT id, title, description, dependencies, estimated_files, priority,
			status, card_id, branch, worktree_path, attempts, error,
			result_summary, merged, merge_failed, replanned, started_at,
			completed_at
		FROM subtasks WHERE run_id = ? ORDER BY position
	`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load subtasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st := &models.Subtask{}
		var deps, files, status string
		var merged, mergeFailed, replanned int
		err := rows.Scan(&st.ID, &st.Title, &st.Description, &deps, &files,
			&st.Priority, &status, &st.CardID, &st.Branch, &st.WorktreePath,
			&st.Attempts, &st.Error, &st.ResultSummary, &merged, &mergeFailed,
			&replanned, &st.StartedAt, &st.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &st.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies: %w", err)
		}
		if err := json.Unmarshal([]byte(files), &st.EstimatedFiles); err != nil {
			return nil, fmt.Errorf("decode estimated files: %w", err)
		}
		st.Status = models.SubtaskStatus(status)
		st.Merged = merged != 0
		st.MergeFailed = mergeFailed != 0
		st.Replanned = replanned != 0
		run.Subtasks = append(run.Subtasks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtasks: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs ordered by creation time, newest first.
// Subtasks are not loaded; use LoadRun for full state.
func (s *Store) ListRuns() ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(`
		SELECT id, card_id, card_name, parent_branch, phase, cycle,
			total_spawned, last_error, created_at, updated_at
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		var phase string
		err := rows.Scan(&run.ID, &run.CardID, &run.CardName, &run.ParentBranch,
			&phase, &run.Cycle, &run.TotalSpawned, &run.LastError,
			&run.CreatedAt, &run.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Phase = models.Phase(phase)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its subtasks.
func (s *Store) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
