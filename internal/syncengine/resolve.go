package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/resolver"
	"github.com/prabhask5/goalsync/internal/store"
)

// applyResolved folds one remote row into local through C7 and commits
// the merge (plus any conflict_history rows) in one transaction, the
// same shape internal/realtime/ingress.go uses for realtime events —
// pull reconcile and realtime ingest share the resolver, differing only
// in where the remote row came from.
func (e *Engine) applyResolved(ctx context.Context, table entity.Table, id string, local, remoteRow *entity.Row, pendingOps []outbox.Op) error {
	if resolver.Trivial(local, remoteRow) {
		return nil
	}

	merged, conflicts := resolver.Resolve(local, remoteRow, pendingOps)
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
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
	if err != nil {
		return err
	}

	e.bus.Publish(Event{Kind: EventEntityChanged, Table: table, ID: id})
	return nil
}
