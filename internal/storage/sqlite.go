package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  type         TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  capabilities JSON NOT NULL DEFAULT '[]',
  config       JSON NOT NULL DEFAULT '{}',
  repository   TEXT NOT NULL DEFAULT '',
  labels       JSON NOT NULL DEFAULT '[]',
  guidelines   TEXT NOT NULL DEFAULT '',
  is_active    INTEGER NOT NULL DEFAULT 1,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS issue_records (
  repository   TEXT NOT NULL,
  issue_number INTEGER NOT NULL,
  status       TEXT NOT NULL,
  agent_id     TEXT,
  updated_at   TEXT NOT NULL,
  PRIMARY KEY (repository, issue_number)
);`,
		`CREATE TABLE IF NOT EXISTS action_logs (
  id               TEXT PRIMARY KEY,
  agent_id         TEXT NOT NULL,
  action_type      TEXT NOT NULL,
  status           TEXT NOT NULL,
  details          JSON,
  result           JSON,
  issue_repository TEXT,
  issue_number     INTEGER,
  created_at       TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS agent_relationships (
  id                TEXT PRIMARY KEY,
  source_agent_id   TEXT NOT NULL REFERENCES agents(id),
  target_agent_id   TEXT NOT NULL REFERENCES agents(id),
  relationship_type TEXT NOT NULL,
  metadata          JSON NOT NULL DEFAULT '{}',
  created_at        TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS agents_active_repository_idx ON agents(is_active, repository);`,
		`CREATE INDEX IF NOT EXISTS action_logs_agent_created_idx ON action_logs(agent_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
