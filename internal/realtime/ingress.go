package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/applog"
	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/resolver"
	"github.com/prabhask5/goalsync/internal/store"
)

// Notifier is the slice of the engine's event bus realtime ingress
// needs: announcing that an entity changed so C10 can re-query.
type Notifier func(table entity.Table, id string)

// Ingress applies realtime change events through the resolver, honoring
// the echo window and the edit-in-progress buffer (spec §4.8).
type Ingress struct {
	store      *store.Store
	outbox     *outbox.Log
	echoWindow time.Duration
	buffer     *EditBuffer
	notify     Notifier
	log        applog.Logger

	unsubscribe []func()
}

// New wires an Ingress over the local store and outbox. echoWindow is
// the "recently modified" suppression window of spec §5 (default 2s,
// must be >= the debounce window). editTTL/deleteTTL configure the
// edit-in-progress buffer of spec §4.8.
func New(s *store.Store, ob *outbox.Log, echoWindow, editTTL, deleteTTL time.Duration, notify Notifier) *Ingress {
	ig := &Ingress{store: s, outbox: ob, echoWindow: echoWindow, notify: notify, log: applog.For("realtime")}
	ig.buffer = NewEditBuffer(editTTL, deleteTTL, func(table entity.Table, id string, ev Event) {
		ig.apply(context.Background(), table, id, ev)
	})
	return ig
}

// BeginEditing and EndEditing let the UI layer mark an entity as being
// actively edited, deferring realtime application (spec §4.8).
func (ig *Ingress) BeginEditing(table entity.Table, id string) { ig.buffer.BeginEditing(table, id) }
func (ig *Ingress) EndEditing(table entity.Table, id string)   { ig.buffer.EndEditing(table, id) }

// Subscribe opens one channel per synced table against provider, routing
// every event through HandleEvent.
func (ig *Ingress) Subscribe(ctx context.Context, provider ChannelProvider, userID string) error {
	for _, table := range entity.Tables {
		unsub, err := provider.Subscribe(ctx, table, userID, ingressHandler{ig, table})
		if err != nil {
			ig.Close()
			return fmt.Errorf("realtime: subscribe %s: %w", table, err)
		}
		ig.unsubscribe = append(ig.unsubscribe, unsub)
	}
	return nil
}

// Close unsubscribes every channel opened by Subscribe (spec §5:
// "Engine stop ... unsubscribes the channel").
func (ig *Ingress) Close() {
	for _, u := range ig.unsubscribe {
		u()
	}
	ig.unsubscribe = nil
}

type ingressHandler struct {
	ig    *Ingress
	table entity.Table
}

func (h ingressHandler) HandleEvent(ctx context.Context, ev Event) {
	var id string
	if ev.New != nil {
		id = ev.New.ID
	} else if ev.Old != nil {
		id = ev.Old.ID
	}
	h.ig.HandleEvent(ctx, h.table, id, ev)
}

func (h ingressHandler) HandleState(ChannelState) {
	// The sync status observer (C9) subscribes to channel state directly
	// through the engine; Ingress itself only needs events.
}

// HandleEvent processes one realtime change for table/id, implementing
// spec §4.8 steps 1-6.
func (ig *Ingress) HandleEvent(ctx context.Context, table entity.Table, id string, ev Event) {
	if ig.buffer.IsEditing(table, id) {
		ig.buffer.Defer(table, id, ev)
		return
	}
	ig.apply(ctx, table, id, ev)
}

func (ig *Ingress) apply(ctx context.Context, table entity.Table, id string, ev Event) {
	local, err := ig.store.Get(ctx, table, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		ig.log.Error(ctx, "realtime: load local row failed", "table", table, "id", id, "err", err)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		local = nil
	}

	// Echo protection (spec §5): a row written locally within the last
	// echoWindow is shielded from this incoming remote event.
	if local != nil && time.Since(local.UpdatedAt) < ig.echoWindow {
		return
	}

	if ev.Kind == EventDelete && ev.New == nil && ev.Old != nil {
		// Old carries the pre-delete snapshot with Deleted=false; a DELETE
		// event must still apply as a tombstone; otherwise a row local
		// already believes deleted gets resurrected (spec §3, §4.8).
		deleted := ev.Old.Clone()
		deleted.Deleted = true
		ev.New = deleted
	}

	if local == nil {
		if err := ig.putDirect(ctx, ev.New); err != nil {
			ig.log.Error(ctx, "realtime: put remote row failed", "table", table, "id", id, "err", err)
			return
		}
		ig.notify(table, id)
		return
	}

	pending, err := ig.outbox.ForEntity(ctx, table, id)
	if err != nil {
		ig.log.Error(ctx, "realtime: load pending ops failed", "table", table, "id", id, "err", err)
		return
	}

	if len(pending) == 0 {
		if err := ig.putDirect(ctx, ev.New); err != nil {
			ig.log.Error(ctx, "realtime: put remote row failed", "table", table, "id", id, "err", err)
			return
		}
		ig.notify(table, id)
		return
	}

	merged, conflicts := resolver.Resolve(local, ev.New, pending)
	if err := ig.putMergedWithHistory(ctx, merged, conflicts); err != nil {
		ig.log.Error(ctx, "realtime: resolve+put failed", "table", table, "id", id, "err", err)
		return
	}
	ig.notify(table, id)
}

func (ig *Ingress) putDirect(ctx context.Context, row *entity.Row) error {
	return ig.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.PutEntity(ctx, row)
	})
}

func (ig *Ingress) putMergedWithHistory(ctx context.Context, merged *entity.Row, conflicts []resolver.Conflict) error {
	return ig.store.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.PutEntity(ctx, merged); err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, c := range conflicts {
			if err := tx.AppendConflictHistory(ctx, store.ConflictEntry{
				EntityID:      merged.ID,
				EntityType:    merged.Table,
				Field:         c.Field,
				LocalValue:    fmt.Sprint(c.LocalValue),
				RemoteValue:   fmt.Sprint(c.RemoteValue),
				ResolvedValue: fmt.Sprint(c.ResolvedValue),
				Winner:        string(c.Winner),
				Strategy:      string(c.Strategy),
				Timestamp:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
