// Package query implements the reactive query layer (spec §4.10,
// component C10): generic, auto-requerying readers over the local store
// and a thin writer facade over the outbox helpers. All reads execute
// against C1 only (spec §4.10); writers never mutate C1 directly.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/store"
	"github.com/prabhask5/goalsync/internal/syncengine"
)

// Subscriber is the subset of *syncengine.Engine a Reader depends on —
// just event subscription — so this package's tests can stub it without
// constructing a full Engine.
type Subscriber interface {
	Subscribe(l syncengine.Listener) func()
}

// Filter narrows a table scan to the rows a Reader cares about. A nil
// Filter matches every row.
type Filter func(*entity.Row) bool

// Reader is a per-view reactive query: it holds the last query result
// and re-runs the query whenever an engine event could have affected it
// (spec §4.10: "re-queries on any event that could affect its
// predicate"). T is the caller's decoded domain shape; Reader decodes
// entity.Row.Fields into T via the same JSON round-trip the wire formats
// elsewhere in this engine use, since Fields is already
// JSON-marshalable by construction (spec §3).
type Reader[T any] struct {
	store  *store.Store
	table  entity.Table
	userID string
	filter Filter

	mu      sync.RWMutex
	rows    []*entity.Row
	decoded []T

	listeners  []func([]T)
	unsubEvent func()
}

// NewReader builds a Reader scoped to table and userID, optionally
// narrowed by filter, and performs the first query synchronously so
// Current() is populated before the caller ever sees this Reader.
func NewReader[T any](ctx context.Context, sub Subscriber, s *store.Store, table entity.Table, userID string, filter Filter) (*Reader[T], error) {
	r := &Reader[T]{store: s, table: table, userID: userID, filter: filter}
	if err := r.requery(ctx); err != nil {
		return nil, err
	}
	r.unsubEvent = sub.Subscribe(r.onEvent)
	return r, nil
}

// Close stops this Reader from re-querying on future events.
func (r *Reader[T]) Close() {
	if r.unsubEvent != nil {
		r.unsubEvent()
	}
}

// Current returns the most recent query result.
func (r *Reader[T]) Current() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.decoded))
	copy(out, r.decoded)
	return out
}

// CurrentRows returns the most recent result as raw envelopes, for
// callers that need envelope fields (updated_at, deleted, ...) the
// decoded T does not carry.
func (r *Reader[T]) CurrentRows() []*entity.Row {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// OnChange registers a listener called with the new result after every
// successful re-query.
func (r *Reader[T]) OnChange(l func([]T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// onEvent is the engine bus listener (spec §4.10: "subscribes to engine
// events postPush, postPull, realtimeApplied" — entityChanged is
// included too since it is the more targeted signal realtime ingress
// and the push drain's remote-wins path both emit).
func (r *Reader[T]) onEvent(ev syncengine.Event) {
	switch ev.Kind {
	case syncengine.EventPostPush, syncengine.EventPostPull:
		// Table-wide signals: always worth a re-query regardless of which
		// table changed, since a multi-table writer transaction could
		// have touched this Reader's table without an EntityChanged for
		// it individually.
	case syncengine.EventRealtimeApplied, syncengine.EventEntityChanged:
		if ev.Table != r.table {
			return
		}
	default:
		return
	}
	if err := r.requery(context.Background()); err != nil {
		return
	}
	r.notify()
}

func (r *Reader[T]) requery(ctx context.Context) error {
	rows, err := r.store.QueryByUser(ctx, r.table, r.userID)
	if err != nil {
		return fmt.Errorf("query reader %s: %w", r.table, err)
	}

	filtered := make([]*entity.Row, 0, len(rows))
	decoded := make([]T, 0, len(rows))
	for _, row := range rows {
		if row.Deleted {
			continue
		}
		if r.filter != nil && !r.filter(row) {
			continue
		}
		var t T
		if err := decodeFields(row, &t); err != nil {
			return err
		}
		filtered = append(filtered, row)
		decoded = append(decoded, t)
	}

	r.mu.Lock()
	r.rows = filtered
	r.decoded = decoded
	r.mu.Unlock()
	return nil
}

func (r *Reader[T]) notify() {
	r.mu.RLock()
	decoded := make([]T, len(r.decoded))
	copy(decoded, r.decoded)
	listeners := make([]func([]T), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(decoded)
	}
}

// decodeFields marshals row.Fields to JSON and unmarshals into out,
// the same opaque-field contract Fields itself documents: the engine
// never interprets these fields, but a Reader's caller is free to.
func decodeFields(row *entity.Row, out any) error {
	b, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("encode fields for %s/%s: %w", row.Table, row.ID, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode fields for %s/%s: %w", row.Table, row.ID, err)
	}
	return nil
}
