package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Scan bookkeeping
CREATE TABLE IF NOT EXISTS scan_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    max_depth INTEGER,
    session_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_history_status ON scan_history(status);

-- One row per indexed filesystem entry; times are unix nanoseconds
CREATE TABLE IF NOT EXISTS indexed_file (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    parent_path TEXT NOT NULL,
    name TEXT NOT NULL,
    is_dir BOOLEAN NOT NULL DEFAULT 0,
    last_modified INTEGER NOT NULL,
    indexed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_indexed_file_parent ON indexed_file(parent_path);

-- Full-text search over names and paths, prefix indexes speed up "term*" queries
CREATE VIRTUAL TABLE IF NOT EXISTS indexed_file_fts USING fts5(
    name, path,
    content='indexed_file',
    content_rowid='id',
    tokenize='unicode61',
    prefix='2 3'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS indexed_file_ai AFTER INSERT ON indexed_file BEGIN
    INSERT INTO indexed_file_fts(rowid, name, path)
    VALUES (new.id, new.name, new.path);
END;

CREATE TRIGGER IF NOT EXISTS indexed_file_ad AFTER DELETE ON indexed_file BEGIN
    INSERT INTO indexed_file_fts(indexed_file_fts, rowid, name, path)
    VALUES ('delete', old.id, old.name, old.path);
END;

CREATE TRIGGER IF NOT EXISTS indexed_file_au AFTER UPDATE OF name, path ON indexed_file BEGIN
    INSERT INTO indexed_file_fts(indexed_file_fts, rowid, name, path)
    VALUES ('delete', old.id, old.name, old.path);
    INSERT INTO indexed_file_fts(rowid, name, path)
    VALUES (new.id, new.name, new.path);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS indexed_file_au;
DROP TRIGGER IF EXISTS indexed_file_ad;
DROP TRIGGER IF EXISTS indexed_file_ai;

DROP TABLE IF EXISTS indexed_file_fts;
DROP TABLE IF EXISTS indexed_file;
DROP TABLE IF EXISTS scan_history;
DROP TABLE IF EXISTS schema_version;
`

// currentVersion reads the applied schema version, 0.0.0 when nothing was applied
func currentVersion(ctx context.Context, q querier) (*semver.Version, error) {
	var tableName string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var versionStr string
	err = q.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&versionStr)
	if err == sql.ErrNoRows || (err == nil && versionStr == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	v, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid current schema version %s: %w", versionStr, err)
	}
	return v, nil
}

// ApplyMigrations runs all pending migrations.
// Several connections may open the same database file at once, so every migration
// runs in its own transaction and the version row is recorded idempotently.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// SchemaVersion returns the applied schema version as a string
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var version string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == version {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", version)
	}

	// The down script drops schema_version itself for the first migration
	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", version, err)
	}

	var tableName string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", version, err)
	}

	return nil
}
