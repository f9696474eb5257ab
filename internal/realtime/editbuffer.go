package realtime

import (
	"sync"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
)

type rowKey struct {
	table entity.Table
	id    string
}

// EditBuffer defers realtime events for rows the UI has marked as
// "being edited" (spec §4.8): the change is held until EndEditing(id)
// or a TTL elapses. Delete events get their own, shorter TTL (default
// 500ms, the source's delete-animation delay) so a delete is never held
// indefinitely even if the user never explicitly acknowledges it.
type EditBuffer struct {
	mu       sync.Mutex
	editing  map[rowKey]bool
	deferred map[rowKey]Event
	timers   map[rowKey]*time.Timer

	ttl       time.Duration
	deleteTTL time.Duration
	flush     func(rowKey, Event)
}

// NewEditBuffer creates a buffer that calls flush when a deferred event
// is finally released, either by EndEditing or by TTL expiry.
func NewEditBuffer(ttl, deleteTTL time.Duration, flush func(table entity.Table, id string, ev Event)) *EditBuffer {
	b := &EditBuffer{
		editing:   make(map[rowKey]bool),
		deferred:  make(map[rowKey]Event),
		timers:    make(map[rowKey]*time.Timer),
		ttl:       ttl,
		deleteTTL: deleteTTL,
	}
	b.flush = func(k rowKey, ev Event) { flush(k.table, k.id, ev) }
	return b
}

// BeginEditing marks an entity as being edited: subsequent realtime
// events for it are deferred instead of applied immediately.
func (b *EditBuffer) BeginEditing(table entity.Table, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editing[rowKey{table, id}] = true
}

// IsEditing reports whether table/id is currently marked as being
// edited.
func (b *EditBuffer) IsEditing(table entity.Table, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editing[rowKey{table, id}]
}

// Defer holds ev for table/id until EndEditing or TTL expiry, replacing
// any previously deferred event for the same row (only the most recent
// remote change matters, per spec §4.8).
func (b *EditBuffer) Defer(table entity.Table, id string, ev Event) {
	k := rowKey{table, id}
	ttl := b.ttl
	if ev.Kind == EventDelete {
		ttl = b.deleteTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.deferred[k] = ev
	if t, ok := b.timers[k]; ok {
		t.Stop()
	}
	b.timers[k] = time.AfterFunc(ttl, func() { b.releaseIfPending(k) })
}

// EndEditing releases any deferred event for table/id immediately.
func (b *EditBuffer) EndEditing(table entity.Table, id string) {
	k := rowKey{table, id}
	b.mu.Lock()
	delete(b.editing, k)
	b.mu.Unlock()
	b.releaseIfPending(k)
}

func (b *EditBuffer) releaseIfPending(k rowKey) {
	b.mu.Lock()
	ev, ok := b.deferred[k]
	if ok {
		delete(b.deferred, k)
	}
	if t, ok := b.timers[k]; ok {
		t.Stop()
		delete(b.timers, k)
	}
	delete(b.editing, k)
	b.mu.Unlock()

	if ok {
		b.flush(k, ev)
	}
}
