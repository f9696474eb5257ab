package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func decodeRow(table entity.Table, id, userID, createdAt, updatedAt string, deleted int, version int64, deviceID, fieldsJSON string) (*entity.Row, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s/%s: %w", table, id, err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %s/%s: %w", table, id, err)
	}
	var fields entity.Fields
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s/%s: %w", table, id, err)
	}
	return &entity.Row{
		Envelope: entity.Envelope{
			ID:        id,
			UserID:    userID,
			CreatedAt: created,
			UpdatedAt: updated,
			Deleted:   deleted != 0,
			Version:   version,
			DeviceID:  deviceID,
		},
		Table:  table,
		Fields: fields,
	}, nil
}

// Get reads one row outside of a transaction (a consistent per-table
// snapshot read, per spec §5's shared-resource policy).
func (s *Store) Get(ctx context.Context, table entity.Table, id string) (*entity.Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM entities WHERE table_name = ? AND id = ?
	`, string(table), id)

	var userID, createdAt, updatedAt, fieldsJSON string
	var deviceID sql.NullString
	var deleted int
	var version int64
	if err := row.Scan(&userID, &createdAt, &updatedAt, &deleted, &version, &deviceID, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity %s/%s: %w", table, id, err)
	}
	return decodeRow(table, id, userID, createdAt, updatedAt, deleted, version, deviceID.String, fieldsJSON)
}

// QueryByUser returns every row of table owned by userID.
func (s *Store) QueryByUser(ctx context.Context, table entity.Table, userID string) ([]*entity.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM entities WHERE table_name = ? AND user_id = ?
		ORDER BY updated_at, id
	`, string(table), userID)
	if err != nil {
		return nil, fmt.Errorf("query by user: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(table, rows)
}

// QuerySince returns rows of table with updated_at >= cursor, ordered by
// (updated_at, id) for stable pagination (spec §4.6 egress optimisation:
// "stable sort by updated_at then id to avoid skipping rows with equal
// timestamps"). afterID supports resuming mid-page on a tied timestamp.
func (s *Store) QuerySince(ctx context.Context, table entity.Table, cursor time.Time, afterID string, limit int) ([]*entity.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM entities
		WHERE table_name = ? AND (updated_at > ? OR (updated_at = ? AND id > ?))
		ORDER BY updated_at, id
		LIMIT ?
	`, string(table), formatTime(cursor), formatTime(cursor), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query since: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(table, rows)
}

// QueryRoutineEntriesByRoutineAndDate serves the composite (routine_id,
// date) index named in spec §4.1 for the routine_entries table.
func (s *Store) QueryRoutineEntriesByRoutineAndDate(ctx context.Context, routineID, date string) ([]*entity.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM entities
		WHERE table_name = 'routine_entries'
			AND json_extract(fields, '$.routine_id') = ?
			AND json_extract(fields, '$.date') = ?
		ORDER BY id
	`, routineID, date)
	if err != nil {
		return nil, fmt.Errorf("query routine entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(entity.TableRoutineEntries, rows)
}

func scanRows(table entity.Table, rows *sql.Rows) ([]*entity.Row, error) {
	var out []*entity.Row
	for rows.Next() {
		var id, userID, createdAt, updatedAt, fieldsJSON string
		var deviceID sql.NullString
		var deleted int
		var version int64
		if err := rows.Scan(&id, &userID, &createdAt, &updatedAt, &deleted, &version, &deviceID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r, err := decodeRow(table, id, userID, createdAt, updatedAt, deleted, version, deviceID.String, fieldsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOutboxOps returns every pending outbox row ordered by seq (spec
// §3: "an auto-assigned monotonic sequence number used as primary key").
func (s *Store) ListOutboxOps(ctx context.Context) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, table_name, entity_id, kind, field, value, timestamp, retries
		FROM sync_queue ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list outbox ops: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var tableName string
		var field, value sql.NullString
		if err := rows.Scan(&r.Seq, &tableName, &r.EntityID, &r.Kind, &field, &value, &r.Timestamp, &r.Retries); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Table = entity.Table(tableName)
		r.Field = field.String
		r.Value = value.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountOutboxOps returns the number of pending outbox rows, used by the
// sync status observer's pending-count field (spec §4.9).
func (s *Store) CountOutboxOps(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox ops: %w", err)
	}
	return n, nil
}

// OutboxOpsForEntity returns the pending ops for one entity, used by the
// resolver's pending-op field shield (spec §4.7) and by realtime ingress
// (spec §4.8 step 4).
func (s *Store) OutboxOpsForEntity(ctx context.Context, table entity.Table, entityID string) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, table_name, entity_id, kind, field, value, timestamp, retries
		FROM sync_queue WHERE table_name = ? AND entity_id = ? ORDER BY seq
	`, string(table), entityID)
	if err != nil {
		return nil, fmt.Errorf("outbox ops for entity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var tableName string
		var field, value sql.NullString
		if err := rows.Scan(&r.Seq, &tableName, &r.EntityID, &r.Kind, &field, &value, &r.Timestamp, &r.Retries); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Table = entity.Table(tableName)
		r.Field = field.String
		r.Value = value.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetMeta reads one key from the platform-durable key/value table of
// spec §6 (used for the pull cursor's lastSyncTimestamp). Returns
// ("", false) if absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts one key in the key/value table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

// RunInTransactionFn is the exported function type, kept for callers that
// accept an injectable transaction runner in tests.
type RunInTransactionFn func(ctx context.Context, fn func(tx Tx) error) error
