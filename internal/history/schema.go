// Package history records download and upload runs and their tasks in SQLite.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id      TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL,
	status  TEXT NOT NULL,
	error   TEXT NOT NULL DEFAULT '',
	tooltip TEXT NOT NULL DEFAULT '',
	derived INTEGER NOT NULL DEFAULT 0,
	hidden  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id, seq);
`

// DB wraps a sql.DB with run history operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
