// Package store implements the local embedded key/value-with-indexes
// store (spec §4.1, component C1): entity tables plus the sync_queue
// outbox and conflict_history, all in one SQLite file, with transactional
// multi-table writes and ranged/equality queries on secondary indexes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"   // bundles the sqlite3 wasm runtime, no cgo required

	"github.com/prabhask5/goalsync/internal/applog"
)

// ErrNotFound is returned by Get when no row matches the given id.
var ErrNotFound = fmt.Errorf("store: entity not found")

// Store owns the database/sql handle for one local SQLite file. Exactly
// one Store exists per engine instance (spec §9: no process-wide mutable
// singleton; the handle is a value owned by the Engine).
type Store struct {
	db  *sql.DB
	log applog.Logger
}

// Open creates or opens the SQLite file at path, applies pragmas for
// durability and concurrent readers, and runs pending migrations.
//
// WAL mode lets the push drain read while a UI write transaction is in
// flight, matching the teacher's storage/sqlite pragma setup. busy_timeout
// gives concurrent writers (UI write vs. realtime ingest vs. push drain)
// a grace period before SQLITE_BUSY instead of failing immediately.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	// The pool holds up to 8 connections. Writers serialize through
	// BEGIN IMMEDIATE and busy_timeout; readers use the other connections
	// concurrently under WAL.
	db.SetMaxOpenConns(8)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, log: applog.For("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// beginImmediateWithRetry starts a write transaction with BEGIN IMMEDIATE,
// acquiring the write lock up front rather than on first write, and
// retries with backoff on SQLITE_BUSY the way the teacher's
// storage/sqlite/transaction.go does for the same reason: BEGIN
// IMMEDIATE under WAL can still contend with another writer's commit.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("begin immediate after %d attempts: %w", attempts, err)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	// The ncruces driver surfaces SQLite's textual result code; matching
	// on substring keeps this independent of the driver's exact error type.
	msg := err.Error()
	return contains(msg, "SQLITE_BUSY") || contains(msg, "database is locked")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
