package query

import (
	"context"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
)

// Writer is a table-scoped facade over the outbox helpers (spec §4.10:
// "Writers in this layer call the C4 helpers; they never mutate C1
// directly"). It exists purely to save callers from repeating the table
// argument on every call; all the actual write semantics live in
// internal/outbox.
type Writer struct {
	log   *outbox.Log
	table entity.Table
}

// NewWriter scopes w to one table.
func NewWriter(log *outbox.Log, table entity.Table) *Writer {
	return &Writer{log: log, table: table}
}

// Create inserts a new row of this Writer's table.
func (w *Writer) Create(ctx context.Context, userID string, fields entity.Fields) (*entity.Row, error) {
	return w.log.Create(ctx, w.table, userID, fields)
}

// Delete soft-deletes a row by id.
func (w *Writer) Delete(ctx context.Context, id string) error {
	return w.log.Delete(ctx, w.table, id)
}

// SetField sets one field.
func (w *Writer) SetField(ctx context.Context, id, field string, value any) error {
	return w.log.SetField(ctx, w.table, id, field, value)
}

// SetMany sets several fields at once.
func (w *Writer) SetMany(ctx context.Context, id string, values map[string]any) error {
	return w.log.SetMany(ctx, w.table, id, values)
}

// Increment adds delta to a numeric field.
func (w *Writer) Increment(ctx context.Context, id, field string, delta float64) error {
	return w.log.Increment(ctx, w.table, id, field, delta)
}
