// Package outbox implements the write-ahead operation log (spec §4.4,
// component C4): every local mutation is turned into an intent-preserving
// record, appended atomically with the entity write, and later drained to
// remote by the sync engine.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/store"
)

// Kind is the tag of an outbox operation's sum type (spec §3, §9: "a
// nullable/optional field record becomes a sum type over kind, so an
// increment record never lacks field/value and a delete record never has
// them").
type Kind string

const (
	KindCreate    Kind = "create"
	KindDelete    Kind = "delete"
	KindSet       Kind = "set"
	KindIncrement Kind = "increment"
)

// Op is one outbox operation, as held in memory by the compactor and the
// push drain. Field is set only for single-field Set/Increment; Value
// holds the create payload, the {field: value} map for multi-field set,
// the scalar for single-field set, or the signed delta for increment.
type Op struct {
	Seq       int64
	Table     entity.Table
	EntityID  string
	Kind      Kind
	Field     string
	Value     any
	Timestamp time.Time
	Retries   int
}

// MultiSetValue is the payload shape for a multi-field Set (Field == "").
type MultiSetValue map[string]any

func (op Op) toRow() (store.OutboxRow, error) {
	var valueJSON string
	if op.Kind != KindDelete {
		b, err := json.Marshal(op.Value)
		if err != nil {
			return store.OutboxRow{}, fmt.Errorf("marshal op value: %w", err)
		}
		valueJSON = string(b)
	}
	return store.OutboxRow{
		Seq:       op.Seq,
		Table:     op.Table,
		EntityID:  op.EntityID,
		Kind:      string(op.Kind),
		Field:     op.Field,
		Value:     valueJSON,
		Timestamp: op.Timestamp.UTC().Format(time.RFC3339Nano),
		Retries:   op.Retries,
	}, nil
}

// FromRow decodes a raw store.OutboxRow into an Op. Exported so the
// compactor and push drain, which both load the whole outbox, can share
// one decode path.
func FromRow(r store.OutboxRow) (Op, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Op{}, fmt.Errorf("parse op timestamp: %w", err)
	}
	op := Op{
		Seq:       r.Seq,
		Table:     r.Table,
		EntityID:  r.EntityID,
		Kind:      Kind(r.Kind),
		Field:     r.Field,
		Timestamp: ts,
		Retries:   r.Retries,
	}
	if r.Kind == string(KindDelete) || r.Value == "" {
		return op, nil
	}
	var raw any
	if err := json.Unmarshal([]byte(r.Value), &raw); err != nil {
		return Op{}, fmt.Errorf("unmarshal op value: %w", err)
	}
	if op.Field == "" && op.Kind == KindSet {
		m, ok := raw.(map[string]any)
		if !ok {
			return Op{}, fmt.Errorf("multi-field set value is not an object")
		}
		op.Value = MultiSetValue(m)
	} else {
		op.Value = raw
	}
	return op, nil
}

// Log wraps a *store.Store with the outbox's five write helpers. Every
// helper opens one local-store transaction, performs the entity
// mutation, appends the outbox row, and commits — satisfying the
// outbox-entity atomicity invariant of spec §3.
type Log struct {
	store     *store.Store
	onEnqueue func() // called after each successful commit; schedules a push
	deviceID  string
}

// New creates an outbox Log. onEnqueue is invoked (outside the
// transaction) after every successful enqueue; the embedding application
// wires it to the sync engine's debounced SchedulePush (spec §4.4).
func New(s *store.Store, deviceID string, onEnqueue func()) *Log {
	if onEnqueue == nil {
		onEnqueue = func() {}
	}
	return &Log{store: s, onEnqueue: onEnqueue, deviceID: deviceID}
}

// Create inserts a new row and enqueues a create op in one transaction.
func (l *Log) Create(ctx context.Context, table entity.Table, userID string, fields entity.Fields) (*entity.Row, error) {
	now := time.Now()
	row := &entity.Row{
		Envelope: entity.Envelope{
			ID:        entity.NewID(),
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
			DeviceID:  l.deviceID,
		},
		Table:  table,
		Fields: fields,
	}

	err := l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return l.append(ctx, tx, Op{
			Table: table, EntityID: row.ID, Kind: KindCreate,
			Value: map[string]any(fields), Timestamp: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("outbox create %s: %w", table, err)
	}
	l.onEnqueue()
	return row, nil
}

// Delete soft-deletes a row (deleted=true) and enqueues a delete op.
// Resurrection safety (spec §3) means this never hard-removes the row:
// only the retention sweep does that, long after the fact.
func (l *Log) Delete(ctx context.Context, table entity.Table, id string) error {
	now := time.Now()
	err := l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		row, err := tx.GetEntity(ctx, table, id)
		if err != nil {
			return err
		}
		row.Deleted = true
		row.UpdatedAt = now
		row.DeviceID = l.deviceID
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return l.append(ctx, tx, Op{Table: table, EntityID: id, Kind: KindDelete, Timestamp: now})
	})
	if err != nil {
		return fmt.Errorf("outbox delete %s/%s: %w", table, id, err)
	}
	l.onEnqueue()
	return nil
}

// SetField sets one field and enqueues a single-field set op.
func (l *Log) SetField(ctx context.Context, table entity.Table, id, field string, value any) error {
	now := time.Now()
	err := l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		row, err := tx.GetEntity(ctx, table, id)
		if err != nil {
			return err
		}
		row.Fields[field] = value
		row.UpdatedAt = now
		row.DeviceID = l.deviceID
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return l.append(ctx, tx, Op{Table: table, EntityID: id, Kind: KindSet, Field: field, Value: value, Timestamp: now})
	})
	if err != nil {
		return fmt.Errorf("outbox set %s/%s.%s: %w", table, id, field, err)
	}
	l.onEnqueue()
	return nil
}

// SetMany sets several fields at once and enqueues a multi-field set op.
func (l *Log) SetMany(ctx context.Context, table entity.Table, id string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	err := l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		row, err := tx.GetEntity(ctx, table, id)
		if err != nil {
			return err
		}
		for k, v := range values {
			row.Fields[k] = v
		}
		row.UpdatedAt = now
		row.DeviceID = l.deviceID
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return l.append(ctx, tx, Op{Table: table, EntityID: id, Kind: KindSet, Value: MultiSetValue(values), Timestamp: now})
	})
	if err != nil {
		return fmt.Errorf("outbox set-many %s/%s: %w", table, id, err)
	}
	l.onEnqueue()
	return nil
}

// Increment adds delta to a numeric field and enqueues an increment op.
// The pending op itself, not the local row, is what the resolver's
// pending-op shield protects (spec §4.7 invariant): the local field value
// is free to change here, but incoming remote snapshots must not
// overwrite it while this op is outstanding.
func (l *Log) Increment(ctx context.Context, table entity.Table, id, field string, delta float64) error {
	now := time.Now()
	err := l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		row, err := tx.GetEntity(ctx, table, id)
		if err != nil {
			return err
		}
		current, _ := row.Fields[field].(float64)
		row.Fields[field] = current + delta
		row.UpdatedAt = now
		row.DeviceID = l.deviceID
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return l.append(ctx, tx, Op{Table: table, EntityID: id, Kind: KindIncrement, Field: field, Value: delta, Timestamp: now})
	})
	if err != nil {
		return fmt.Errorf("outbox increment %s/%s.%s: %w", table, id, field, err)
	}
	l.onEnqueue()
	return nil
}

func (l *Log) append(ctx context.Context, tx store.Tx, op Op) error {
	row, err := op.toRow()
	if err != nil {
		return err
	}
	seq, err := tx.AppendOutboxOp(ctx, row)
	if err != nil {
		return err
	}
	op.Seq = seq
	return nil
}

// List returns every pending op, decoded, ordered by seq.
func (l *Log) List(ctx context.Context) ([]Op, error) {
	rows, err := l.store.ListOutboxOps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	ops := make([]Op, 0, len(rows))
	for _, r := range rows {
		op, err := FromRow(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Count returns the number of pending ops.
func (l *Log) Count(ctx context.Context) (int, error) {
	return l.store.CountOutboxOps(ctx)
}

// ForEntity returns the pending ops for one entity, decoded.
func (l *Log) ForEntity(ctx context.Context, table entity.Table, id string) ([]Op, error) {
	rows, err := l.store.OutboxOpsForEntity(ctx, table, id)
	if err != nil {
		return nil, fmt.Errorf("outbox for entity: %w", err)
	}
	ops := make([]Op, 0, len(rows))
	for _, r := range rows {
		op, err := FromRow(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Replace atomically swaps the outbox contents, used by the compactor
// (spec §4.5) to commit its single-pass reduction.
func (l *Log) Replace(ctx context.Context, ops []Op) error {
	rows := make([]store.OutboxRow, 0, len(ops))
	for _, op := range ops {
		r, err := op.toRow()
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	return l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.ReplaceOutbox(ctx, rows)
	})
}

// Remove deletes one outbox row by seq, used after a successful push or
// after the retry ceiling is exceeded (spec §4.4).
func (l *Log) Remove(ctx context.Context, seq int64) error {
	return l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.DeleteOutboxOp(ctx, seq)
	})
}

// MarkRetry increments retries and refreshes timestamp after a failed
// push attempt, resetting the backoff clock for this op (spec §4.4).
func (l *Log) MarkRetry(ctx context.Context, seq int64, retries int) error {
	return l.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.UpdateOutboxRetry(ctx, seq, retries, time.Now().UTC().Format(time.RFC3339Nano))
	})
}
