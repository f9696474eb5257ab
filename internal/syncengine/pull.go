package syncengine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prabhask5/goalsync/internal/entity"
)

// Pull runs the pull reconcile of spec §4.6: for each synced table, in
// parallel, page rows with updated_at >= cursor, fold each through C7,
// and advance the cursor to the greatest observed updated_at. Triggered
// by engine start, reconnect, foreground transitions and the periodic
// tick (Engine itself runs it at Start when online and on the periodic
// tick; callers invoke it directly for the other triggers).
func (e *Engine) Pull(ctx context.Context) error {
	cursor, err := e.loadCursor(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: load cursor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	watermarks := make([]time.Time, len(entity.Tables))
	for i, table := range entity.Tables {
		i, table := i, table
		g.Go(func() error {
			watermark, err := e.reconcileTable(gctx, table, cursor)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", table, err)
			}
			watermarks[i] = watermark
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	newCursor := cursor
	for _, w := range watermarks {
		if w.After(newCursor) {
			newCursor = w
		}
	}
	if newCursor.After(cursor) {
		if err := e.saveCursor(ctx, newCursor); err != nil {
			return fmt.Errorf("syncengine: save cursor: %w", err)
		}
	}

	e.bus.Publish(Event{Kind: EventPostPull})
	return nil
}

// reconcileTable pages one table's remote rows since cursor and folds
// each through C7, returning the greatest updated_at observed (or
// cursor unchanged if nothing was returned). Pull is idempotent: a
// second call with the same cursor yields no additional writes because
// resolver.Trivial short-circuits identical envelopes (spec §4.6: "pull
// is idempotent").
func (e *Engine) reconcileTable(ctx context.Context, table entity.Table, cursor time.Time) (time.Time, error) {
	watermark := cursor
	afterID := ""
	for {
		rows, err := e.remote.SelectSince(ctx, table, e.userID, cursor, afterID, pullPageSize)
		if err != nil {
			return watermark, err
		}
		if len(rows) == 0 {
			return watermark, nil
		}

		for _, remoteRow := range rows {
			if err := e.reconcileOne(ctx, table, remoteRow); err != nil {
				return watermark, err
			}
			if remoteRow.UpdatedAt.After(watermark) {
				watermark = remoteRow.UpdatedAt
			}
		}

		last := rows[len(rows)-1]
		if len(rows) < pullPageSize {
			return watermark, nil
		}
		cursor = last.UpdatedAt
		afterID = last.ID
	}
}

func (e *Engine) loadCursor(ctx context.Context) (time.Time, error) {
	raw, ok, err := e.store.GetMeta(ctx, lastSyncKey)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return t, nil
}

func (e *Engine) saveCursor(ctx context.Context, t time.Time) error {
	return e.store.SetMeta(ctx, lastSyncKey, t.UTC().Format(time.RFC3339Nano))
}
