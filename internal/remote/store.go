// Package remote defines the contract the sync engine (C6) uses to talk
// to the relational remote store described in spec §6, plus the
// sentinel errors the push drain treats as idempotent success or as a
// stale-basis conflict. Concrete implementations live in
// internal/remote/postgres (production) and internal/remote/rtest (an
// in-memory fake for tests).
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
)

// ErrNotFound is returned by Update/Delete when no row matches the id.
// The push drain (spec §4.6) treats ErrNotFound on Delete, and on the
// Update of a set op, as success (the row is already gone); it does not
// re-pull in either case.
var ErrNotFound = errors.New("remote: row not found")

// ErrDuplicate is returned by Insert when the row's id already exists
// remotely. The push drain treats this as success (spec §4.6: "a remote
// duplicate-key error is treated as success (already synced)").
var ErrDuplicate = errors.New("remote: duplicate id")

// ErrStaleVersion is returned by UpdateWithVersionCAS when the row's
// current remote _version does not match the expected basis (the Open
// Question CAS fix, see DESIGN.md). The caller re-pulls the row and keeps
// the op for a retry on a later drain rather than treating this as a
// hard failure.
var ErrStaleVersion = errors.New("remote: stale version basis")

// Store is the remote relational store contract of spec §6: per-user
// row-level filtering, envelope columns required on every table,
// REPLICA IDENTITY FULL (or equivalent) so UPDATE/DELETE events carry
// full rows.
type Store interface {
	// Insert creates a new row. ErrDuplicate if id already exists.
	Insert(ctx context.Context, row *entity.Row) error

	// Update applies a partial field update (single or multi-field set)
	// plus envelope bookkeeping. ErrNotFound if no row matches.
	Update(ctx context.Context, table entity.Table, id string, fields map[string]any, updatedAt time.Time, deviceID string) error

	// UpdateWithVersionCAS implements the increment push of spec §4.6 as
	// a compare-and-swap on _version: it reads the current value of
	// field, writes current+delta, and only commits if the row's
	// _version still equals expectedVersion. Returns the row's new
	// _version on success, or ErrStaleVersion if the CAS failed, or
	// ErrNotFound if the row doesn't exist.
	UpdateWithVersionCAS(ctx context.Context, table entity.Table, id, field string, delta float64, expectedVersion int64, updatedAt time.Time, deviceID string) (int64, error)

	// Delete soft-deletes a row (deleted=true, updated_at, device_id).
	// ErrNotFound if no row matches — the push drain treats this as
	// success (spec §4.6: "row not found is treated as success").
	Delete(ctx context.Context, table entity.Table, id string, updatedAt time.Time, deviceID string) error

	// Get fetches one row by id, used to resolve a stale-basis Update
	// conflict by pulling the remote row into local (spec §4.6).
	Get(ctx context.Context, table entity.Table, id string) (*entity.Row, error)

	// SelectSince pages rows with updated_at >= cursor for one user,
	// ordered stably by (updated_at, id) — spec §4.6 egress optimisation.
	// afterID resumes mid-page on a tied timestamp.
	SelectSince(ctx context.Context, table entity.Table, userID string, cursor time.Time, afterID string, limit int) ([]*entity.Row, error)

	// Close releases the store's underlying connection resources.
	Close()
}
