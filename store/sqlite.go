// Package store persists the engine's durable entities to SQLite. It is
// the sole owner of durable state, per spec §3's ownership rules.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection opened with WAL journaling and foreign
// keys enabled, migrated to the latest schema version on Open.
type DB struct {
	sql  *sql.DB
	path string
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, schemaV1Projects},
	{2, schemaV2Tickets},
	{3, schemaV3Sessions},
	{4, schemaV4History},
	{5, schemaV5Reviews},
	{6, schemaV6Notifications},
}

const schemaV1Projects = `
CREATE TABLE projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	repo_path TEXT NOT NULL UNIQUE,
	pane_group TEXT NOT NULL,
	pane_window TEXT NOT NULL DEFAULT '',
	tickets_path TEXT NOT NULL DEFAULT '',
	handoff_path TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const schemaV2Tickets = `
CREATE TABLE tickets (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	external_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	file_path TEXT NOT NULL,
	prefix TEXT NOT NULL DEFAULT '',
	is_adhoc INTEGER NOT NULL DEFAULT 0,
	is_explore INTEGER NOT NULL DEFAULT 0,
	rejection_feedback TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT 'user',
	started_at DATETIME,
	completed_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(project_id, file_path)
);
CREATE INDEX idx_tickets_project_state ON tickets(project_id, state);
`

const schemaV3Sessions = `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	ticket_id TEXT REFERENCES tickets(id),
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	pane_id TEXT NOT NULL DEFAULT '',
	pid INTEGER NOT NULL DEFAULT 0,
	assistant_session_id TEXT NOT NULL DEFAULT '',
	transcript_path TEXT NOT NULL DEFAULT '',
	context_percent INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	ended_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX idx_sessions_project_status ON sessions(project_id, status);
CREATE UNIQUE INDEX idx_sessions_pane_id ON sessions(pane_id) WHERE pane_id != '';
`

const schemaV4History = `
CREATE TABLE ticket_history (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL REFERENCES tickets(id),
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	triggered_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX idx_history_ticket ON ticket_history(ticket_id, created_at);
`

const schemaV5Reviews = `
CREATE TABLE review_results (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	ticket_id TEXT NOT NULL REFERENCES tickets(id),
	decision TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	trigger_kind TEXT NOT NULL,
	session_status TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX idx_reviews_ticket ON review_results(ticket_id, created_at);
`

const schemaV6Notifications = `
CREATE TABLE notifications (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	ticket_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(session_id, type)
);
`

// Open creates the database directory if needed, opens the SQLite file in
// WAL mode with foreign keys enabled, and applies any pending migrations.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	d := &DB{sql: sqlDB, path: dbPath}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate() error {
	if _, err := d.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	row := d.sql.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := d.sql.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Ping verifies the connection is still live, used by the health endpoint.
func (d *DB) Ping() error { return d.sql.Ping() }

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Path returns the on-disk path of the database file.
func (d *DB) Path() string { return d.path }

// FileSize returns the size in bytes of the database file, used by the
// health endpoint.
func (d *DB) FileSize() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
