package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/prabhask5/goalsync/internal/compactor"
	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/remote"
	"github.com/prabhask5/goalsync/internal/store"
)

// Push triggers a push drain immediately, bypassing the debounce timer
// (used by `syncctl push` and by tests). It still respects the
// single-in-flight gate.
func (e *Engine) Push(ctx context.Context) error {
	return e.drain(ctx)
}

// runPushDrain is the debouncer's action (spec §4.4). It swallows its
// own error after logging: a failed drain is retried on the next
// schedulePush or periodic tick, not propagated to a caller that never
// blocked on it.
func (e *Engine) runPushDrain() {
	ctx := context.Background()
	if err := e.drain(ctx); err != nil {
		e.log.Warn(ctx, "syncengine: push drain failed", "err", err)
	}
}

// drain implements the push drain of spec §4.6. Precondition: online.
// The single in-flight gate (spec §5) means a drain already running
// absorbs this call, which re-arms the debouncer so that one trailing
// drain follows once the running one has finished.
func (e *Engine) drain(ctx context.Context) error {
	if !e.online() {
		return nil
	}

	e.drainMu.Lock()
	if e.draining {
		e.drainMu.Unlock()
		e.pushDebouncer.Trigger()
		return nil
	}
	e.draining = true
	e.drainMu.Unlock()
	defer func() {
		e.drainMu.Lock()
		e.draining = false
		e.drainMu.Unlock()
	}()

	ops, err := e.outbox.List(ctx)
	if err != nil {
		return err
	}

	// Step 1: invoke the compactor exactly once at the start of the
	// drain (spec §4.6 step 1), then commit its reduction before
	// fetching eligible ops so backoff timestamps reflect the
	// compacted set.
	compacted := compactor.Compact(ops)
	if err := e.outbox.Replace(ctx, compacted); err != nil {
		return err
	}

	now := time.Now()
	var failedTables []entity.Table
	for _, op := range compacted {
		if !eligible(op, now) {
			continue
		}

		outcome, err := e.translateAndApply(ctx, op)
		switch outcome {
		case outcomeSucceeded:
			if err := e.outbox.Remove(ctx, op.Seq); err != nil {
				return err
			}
		case outcomeRemoteWins:
			// spec §4.6 step 3 / §7 item 5: discard the op and pull the
			// remote row into local; the op is not retried because the
			// user's intent for this field has already been superseded.
			if err := e.outbox.Remove(ctx, op.Seq); err != nil {
				return err
			}
			if perr := e.pullEntity(ctx, op.Table, op.EntityID); perr != nil {
				e.log.Warn(ctx, "syncengine: remote-wins re-pull failed", "table", op.Table, "id", op.EntityID, "err", perr)
			}
		case outcomeRetriable:
			if err != nil {
				e.log.Warn(ctx, "syncengine: op failed, will retry", "table", op.Table, "id", op.EntityID, "kind", op.Kind, "err", err)
			}
			retries := op.Retries + 1
			if retries >= maxRetries {
				if rerr := e.outbox.Remove(ctx, op.Seq); rerr != nil {
					return rerr
				}
				failedTables = append(failedTables, op.Table)
				continue
			}
			if merr := e.outbox.MarkRetry(ctx, op.Seq, retries); merr != nil {
				return merr
			}
		}
	}

	if len(failedTables) > 0 {
		e.log.Error(ctx, "syncengine: ops exceeded retry ceiling, dropped", "tables", failedTables)
	}

	e.bus.Publish(Event{Kind: EventPostPush})
	return nil
}

// pullEntity fetches one row from remote and folds it into local through
// the resolver, used for the remote-wins re-pull path. Errors are
// tolerated as not-found (the row may have been deleted remotely since).
func (e *Engine) pullEntity(ctx context.Context, table entity.Table, id string) error {
	remoteRow, err := e.remote.Get(ctx, table, id)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.reconcileOne(ctx, table, remoteRow)
}

// reconcileOne folds one remote row into local through C7, shared by
// both the remote-wins re-pull path and the paged pull reconcile in
// pull.go.
func (e *Engine) reconcileOne(ctx context.Context, table entity.Table, remoteRow *entity.Row) error {
	var local *entity.Row
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		row, gerr := tx.GetEntity(ctx, table, remoteRow.ID)
		if gerr != nil && !errors.Is(gerr, store.ErrNotFound) {
			return gerr
		}
		if gerr == nil {
			local = row
		}
		return nil
	})
	if err != nil {
		return err
	}

	pendingOps, err := e.outbox.ForEntity(ctx, table, remoteRow.ID)
	if err != nil {
		return err
	}

	return e.applyResolved(ctx, table, remoteRow.ID, local, remoteRow, pendingOps)
}
