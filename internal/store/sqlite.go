// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and applies column migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist and parent directories are
// created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL,
			model       TEXT NOT NULL,
			state       TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (state IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS message_groups (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			created_at  TEXT NOT NULL,

			UNIQUE (workflow_id, seq)
		);

		CREATE TABLE IF NOT EXISTS messages (
			group_id      TEXT NOT NULL REFERENCES message_groups(id) ON DELETE CASCADE,
			idx           INTEGER NOT NULL,
			sender        TEXT NOT NULL,
			content       TEXT NOT NULL,
			tool_call_id  TEXT,
			tool_calls    TEXT,
			finish_reason TEXT,

			PRIMARY KEY (group_id, idx),
			CHECK (sender IN ('user', 'assistant', 'tool'))
		);

		CREATE TABLE IF NOT EXISTS token_usage (
			id                TEXT PRIMARY KEY,
			workflow_id       TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			request_id        TEXT NOT NULL,
			group_id          TEXT,
			provider_id       TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_workflow ON token_usage(workflow_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_request ON token_usage(request_id);
		CREATE INDEX IF NOT EXISTS idx_usage_user ON token_usage(user_id, created_at);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS issues (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority    TEXT NOT NULL DEFAULT 'medium',
			status      TEXT NOT NULL DEFAULT 'open',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (priority IN ('low', 'medium', 'high')),
			CHECK (status IN ('open', 'in_progress', 'resolved', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_issues_user ON issues(user_id, status);

		CREATE TABLE IF NOT EXISTS bookings (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			flight_id   TEXT NOT NULL,
			passenger   TEXT NOT NULL,
			origin      TEXT NOT NULL,
			destination TEXT NOT NULL,
			departure   TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'confirmed',
			created_at  TEXT NOT NULL,

			CHECK (status IN ('confirmed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, departure);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first schema.
// SQLite has no ADD COLUMN IF NOT EXISTS, so each column is checked first.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "workflows",
			column: "closed_at",
			apply:  `ALTER TABLE workflows ADD COLUMN closed_at TEXT`,
		},
		{
			table:  "token_usage",
			column: "finish_reason",
			apply:  `ALTER TABLE token_usage ADD COLUMN finish_reason TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY violation
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// nullString returns nil for empty strings so the column stores NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func defaultLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
