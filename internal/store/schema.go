package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Every step that touches
// pre-existing entity rows must backfill _version=1 and device_id=NULL
// per spec §4.1(d); migrations below enforce that where applicable.
type migration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
	{version: 2, apply: migrateV2},
	{version: 3, apply: migrateV3},
}

func migrateV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			table_name TEXT NOT NULL,
			id         TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted    INTEGER NOT NULL DEFAULT 0,
			version    INTEGER NOT NULL DEFAULT 1,
			device_id  TEXT,
			fields     TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user ON entities(table_name, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(table_name, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_routine_date
			ON entities(json_extract(fields, '$.routine_id'), json_extract(fields, '$.date'))
			WHERE table_name = 'routine_entries'`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			kind      TEXT NOT NULL,
			field     TEXT,
			value     TEXT,
			timestamp TEXT NOT NULL,
			retries   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(table_name, entity_id)`,
		`CREATE TABLE IF NOT EXISTS conflict_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id      TEXT NOT NULL,
			entity_type    TEXT NOT NULL,
			field          TEXT NOT NULL,
			local_value    TEXT,
			remote_value   TEXT,
			resolved_value TEXT,
			winner         TEXT NOT NULL,
			strategy       TEXT NOT NULL,
			timestamp      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflict_history_timestamp ON conflict_history(timestamp)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migration v1: %s: %w", s, err)
		}
	}
	return nil
}

// migrateV2 adds the retention sweep audit log (§9 "SHOULD add" retention
// sweep; RetentionSweep records one entry here per hard-deleted row).
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS retention_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			deleted_at TEXT NOT NULL,
			swept_at  TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migration v2: %s: %w", s, err)
		}
	}
	return nil
}

// migrateV3 adds the platform-durable key/value table spec §6 calls for
// (the pull cursor's lastSyncTimestamp); cleared on logout alongside the
// entity and outbox tables.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migration v3: %s: %w", s, err)
		}
	}
	return nil
}

// migrate runs every migration newer than the schema's current version,
// each inside its own transaction, in a single forward-only sequence.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current := 0
	row := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&current); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear schema_version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write schema_version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}
