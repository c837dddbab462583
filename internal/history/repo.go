package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
)

// CreateRun inserts a new run.
func (db *DB) CreateRun(run models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`INSERT INTO runs (id, kind, target, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Target, run.StartedAt)
	if err != nil {
		return fmt.Errorf("history: create run: %w", err)
	}
	return nil
}

// FinishRun stamps the end time and the top-level error, if any.
func (db *DB) FinishRun(id string, errMsg string) error {
	res, err := db.conn.Exec(`UPDATE runs SET finished_at = ?, error = ? WHERE id = ?`, time.Now().UTC(), errMsg, id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// SaveTask inserts or replaces the latest state of a task. seq keeps the
// tracker's insertion order.
func (db *DB) SaveTask(runID string, seq int, t models.Task) error {
	_, err := db.conn.Exec(`
		INSERT INTO tasks (run_id, id, seq, name, type, status, error, tooltip, derived, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			name    = excluded.name,
			status  = excluded.status,
			error   = excluded.error,
			tooltip = excluded.tooltip
	`, runID, t.ID, seq, t.Name, string(t.Type), string(t.Status), t.Error, t.Tooltip, t.Derived, t.Hidden)
	if err != nil {
		return fmt.Errorf("history: save task: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first, without tasks, and the total count.
func (db *DB) ListRuns(limit, offset int) ([]models.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history: count runs: %w", err)
	}
	rows, err := db.conn.Query(`
		SELECT id, kind, target, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// GetRun returns a run with its tasks in insertion order.
func (db *DB) GetRun(id string) (*models.Run, error) {
	row := db.conn.QueryRow(`SELECT id, kind, target, error, started_at, finished_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT id, name, type, status, error, tooltip, derived, hidden
		FROM tasks WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("history: tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Task
		var typ, status string
		if err := rows.Scan(&t.ID, &t.Name, &typ, &status, &t.Error, &t.Tooltip, &t.Derived, &t.Hidden); err != nil {
			return nil, fmt.Errorf("history: scan task: %w", err)
		}
		t.Type, t.Status = models.TaskType(typ), models.TaskStatus(status)
		r.Tasks = append(r.Tasks, t)
	}
	return r, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var r models.Run
	var kind string
	var finished sql.NullTime
	if err := s.Scan(&r.ID, &kind, &r.Target, &r.Error, &r.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("history: scan run: %w", err)
	}
	r.Kind = models.RunKind(kind)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
