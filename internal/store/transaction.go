package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
)

// Tx is the set of operations available inside one local-store
// transaction. Every path that must satisfy the outbox-entity atomicity
// invariant (spec §3) — enqueue(op, entityMutation) — does so by calling
// both an entity method and an outbox method on the same Tx within one
// RunInTransaction callback.
type Tx interface {
	// GetEntity returns a row, or ErrNotFound if absent.
	GetEntity(ctx context.Context, table entity.Table, id string) (*entity.Row, error)
	// PutEntity upserts a full row (insert or replace by primary key).
	PutEntity(ctx context.Context, row *entity.Row) error
	// DeleteEntity physically removes a row. Used by the retention sweep
	// only; normal soft-delete goes through PutEntity with Deleted=true.
	DeleteEntity(ctx context.Context, table entity.Table, id string) error
	// BulkPutEntities upserts many rows in one statement batch.
	BulkPutEntities(ctx context.Context, rows []*entity.Row) error
	// BulkDeleteEntities physically removes many rows.
	BulkDeleteEntities(ctx context.Context, table entity.Table, ids []string) error

	// AppendOutboxOp inserts one outbox row and returns its assigned seq.
	AppendOutboxOp(ctx context.Context, op OutboxRow) (int64, error)
	// DeleteOutboxOp removes one outbox row by seq.
	DeleteOutboxOp(ctx context.Context, seq int64) error
	// ReplaceOutbox atomically swaps the entire outbox contents, used by
	// the compactor to commit its reduction in one transaction (spec §4.5).
	ReplaceOutbox(ctx context.Context, rows []OutboxRow) error
	// UpdateOutboxRetry bumps retries and refreshes timestamp after a
	// failed push attempt (spec §4.4).
	UpdateOutboxRetry(ctx context.Context, seq int64, retries int, timestamp string) error

	// AppendConflictHistory records one resolver decision (spec §4.7).
	AppendConflictHistory(ctx context.Context, entry ConflictEntry) error

	// ClearAllTables truncates every entity table, the outbox and the
	// conflict history, used by logout (spec §6).
	ClearAllTables(ctx context.Context) error
}

// OutboxRow is the raw, table-agnostic representation of one outbox
// record as stored in sync_queue. The outbox package's richer Op type
// marshals to/from this shape so store never needs to know about Op.
type OutboxRow struct {
	Seq       int64
	Table     entity.Table
	EntityID  string
	Kind      string
	Field     string // empty for create/delete/multi-field set
	Value     string // JSON-encoded payload; empty for delete
	Timestamp string // RFC3339
	Retries   int
}

// ConflictEntry is one row of the conflict_history audit log (spec §3).
type ConflictEntry struct {
	EntityID      string
	EntityType    entity.Table
	Field         string
	LocalValue    string
	RemoteValue   string
	ResolvedValue string
	Winner        string
	Strategy      string
	Timestamp     string
}

type sqlTx struct {
	conn *sql.Conn
}

var _ Tx = (*sqlTx)(nil)

// RunInTransaction executes fn inside one BEGIN IMMEDIATE ... COMMIT/ROLLBACK
// block on a dedicated connection, mirroring the teacher's
// storage/sqlite.RunInTransaction. A panic inside fn rolls back and
// re-raises; any returned error rolls back too.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	txw := &sqlTx{conn: conn}
	if err := fn(txw); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (t *sqlTx) GetEntity(ctx context.Context, table entity.Table, id string) (*entity.Row, error) {
	row := t.conn.QueryRowContext(ctx, `
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

func (t *sqlTx) PutEntity(ctx context.Context, row *entity.Row) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for %s/%s: %w", row.Table, row.ID, err)
	}
	_, err = t.conn.ExecContext(ctx, `
		INSERT INTO entities (table_name, id, user_id, created_at, updated_at, deleted, version, device_id, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			version = excluded.version,
			device_id = excluded.device_id,
			fields = excluded.fields
	`, string(row.Table), row.ID, row.UserID, formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
		boolToInt(row.Deleted), row.Version, nullableString(row.DeviceID), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("put entity %s/%s: %w", row.Table, row.ID, err)
	}
	return nil
}

func (t *sqlTx) DeleteEntity(ctx context.Context, table entity.Table, id string) error {
	_, err := t.conn.ExecContext(ctx, `DELETE FROM entities WHERE table_name = ? AND id = ?`, string(table), id)
	if err != nil {
		return fmt.Errorf("delete entity %s/%s: %w", table, id, err)
	}
	return nil
}

func (t *sqlTx) BulkPutEntities(ctx context.Context, rows []*entity.Row) error {
	for _, r := range rows {
		if err := t.PutEntity(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) BulkDeleteEntities(ctx context.Context, table entity.Table, ids []string) error {
	for _, id := range ids {
		if err := t.DeleteEntity(ctx, table, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) AppendOutboxOp(ctx context.Context, op OutboxRow) (int64, error) {
	res, err := t.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (table_name, entity_id, kind, field, value, timestamp, retries)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(op.Table), op.EntityID, op.Kind, nullableString(op.Field), nullableString(op.Value), op.Timestamp, op.Retries)
	if err != nil {
		return 0, fmt.Errorf("append outbox op: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqlTx) DeleteOutboxOp(ctx context.Context, seq int64) error {
	_, err := t.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("delete outbox op %d: %w", seq, err)
	}
	return nil
}

func (t *sqlTx) ReplaceOutbox(ctx context.Context, rows []OutboxRow) error {
	if _, err := t.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	for _, r := range rows {
		_, err := t.conn.ExecContext(ctx, `
			INSERT INTO sync_queue (seq, table_name, entity_id, kind, field, value, timestamp, retries)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.Seq, string(r.Table), r.EntityID, r.Kind, nullableString(r.Field), nullableString(r.Value), r.Timestamp, r.Retries)
		if err != nil {
			return fmt.Errorf("reinsert outbox op seq=%d: %w", r.Seq, err)
		}
	}
	return nil
}

func (t *sqlTx) UpdateOutboxRetry(ctx context.Context, seq int64, retries int, timestamp string) error {
	_, err := t.conn.ExecContext(ctx, `
		UPDATE sync_queue SET retries = ?, timestamp = ? WHERE seq = ?
	`, retries, timestamp, seq)
	if err != nil {
		return fmt.Errorf("update outbox retry seq=%d: %w", seq, err)
	}
	return nil
}

func (t *sqlTx) AppendConflictHistory(ctx context.Context, e ConflictEntry) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO conflict_history
			(entity_id, entity_type, field, local_value, remote_value, resolved_value, winner, strategy, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EntityID, string(e.EntityType), e.Field, e.LocalValue, e.RemoteValue, e.ResolvedValue, e.Winner, e.Strategy, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append conflict history: %w", err)
	}
	return nil
}

func (t *sqlTx) ClearAllTables(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM entities`,
		`DELETE FROM sync_queue`,
		`DELETE FROM conflict_history`,
		`DELETE FROM sync_meta`,
	} {
		if _, err := t.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear tables: %s: %w", stmt, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
