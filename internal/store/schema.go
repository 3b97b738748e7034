// Package store persists simulation runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite store.
const schemaV1 = `
-- One row per Runner.Run call
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT,
    seed TEXT NOT NULL,      -- uint64, kept as text to survive the int64 column type
    orders INTEGER NOT NULL,
    relays INTEGER NOT NULL,
    delivered INTEGER DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT
);

-- Order outcomes
CREATE TABLE IF NOT EXISTS orders (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    line INTEGER,
    quota INTEGER NOT NULL,
    state TEXT NOT NULL,     -- 'accepted', 'exhausted', 'failed'
    created INTEGER NOT NULL,
    batches INTEGER NOT NULL,
    drawn INTEGER NOT NULL,
    error TEXT,
    PRIMARY KEY (run_id, idx)
);

-- Accepted circuits, one row per circuit, hops by fingerprint
CREATE TABLE IF NOT EXISTS circuits (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    order_idx INTEGER NOT NULL,
    batch INTEGER NOT NULL,
    guard TEXT NOT NULL,
    middle TEXT NOT NULL,
    exit TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_circuits_run_order ON circuits(run_id, order_idx);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// migrations[i] upgrades a database from version i to i+1.
var migrations = []string{schemaV1}

// InitSchema brings db up to SchemaVersion. Existing databases are
// integrity-checked before any pending migration runs.
func InitSchema(ctx context.Context, db *sql.DB) error {
	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		// No schema_version table: a fresh database.
		current = 0
	} else if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v+1, migrations[v]); err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// migrate applies one migration and records its version atomically.
func migrate(ctx context.Context, db *sql.DB, version int, stmts string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		version); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var problems []string

	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			problems = append(problems, result)
		}
	}
	rows.Close()
	if len(problems) > 0 {
		return fmt.Errorf("integrity_check failed: %s", strings.Join(problems, "; "))
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		problems = append(problems, fmt.Sprintf("%s row %d references missing %s", table, rowid.Int64, parent))
	}
	if len(problems) > 0 {
		return fmt.Errorf("foreign_key_check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
