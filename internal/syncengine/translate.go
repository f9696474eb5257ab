package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/remote"
)

// pushOutcome tells the drain loop what happened to one op after
// translation, so it knows whether to remove it, retry it, or re-pull
// the entity before retrying (spec §4.6, §7).
type pushOutcome int

const (
	outcomeSucceeded pushOutcome = iota
	outcomeRetriable
	// outcomeRemoteWins is the "set" stale-basis case (spec §4.6 step 3 /
	// §7 taxonomy item 5): the op is discarded (not retried) and the
	// caller must pull the remote row into local.
	outcomeRemoteWins
)

// translateAndApply sends one outbox op to the remote store per the
// per-kind rules of spec §4.6 step 3, folding remote-side idempotent
// successes (duplicate create, not-found delete) into outcomeSucceeded
// exactly as the spec's error taxonomy (§7 item 4) demands.
func (e *Engine) translateAndApply(ctx context.Context, op outbox.Op) (pushOutcome, error) {
	switch op.Kind {
	case outbox.KindCreate:
		return e.translateCreate(ctx, op)
	case outbox.KindDelete:
		return e.translateDelete(ctx, op)
	case outbox.KindSet:
		return e.translateSet(ctx, op)
	case outbox.KindIncrement:
		return e.translateIncrement(ctx, op)
	default:
		return outcomeRetriable, fmt.Errorf("translate: unknown op kind %q", op.Kind)
	}
}

func (e *Engine) translateCreate(ctx context.Context, op outbox.Op) (pushOutcome, error) {
	fields, ok := op.Value.(map[string]any)
	if !ok {
		return outcomeRetriable, fmt.Errorf("translate create %s/%s: value is not a field map", op.Table, op.EntityID)
	}
	row := &entity.Row{
		Envelope: entity.Envelope{
			ID:        op.EntityID,
			UserID:    e.userID,
			CreatedAt: op.Timestamp,
			UpdatedAt: op.Timestamp,
			Version:   1,
			DeviceID:  e.deviceID,
		},
		Table:  op.Table,
		Fields: entity.Fields(fields),
	}
	err := e.remote.Insert(ctx, row)
	if err == nil {
		return outcomeSucceeded, nil
	}
	if errors.Is(err, remote.ErrDuplicate) {
		// Already synced (spec §4.6 step 3).
		return outcomeSucceeded, nil
	}
	return outcomeRetriable, fmt.Errorf("translate create %s/%s: %w", op.Table, op.EntityID, err)
}

func (e *Engine) translateDelete(ctx context.Context, op outbox.Op) (pushOutcome, error) {
	err := e.remote.Delete(ctx, op.Table, op.EntityID, op.Timestamp, e.deviceID)
	if err == nil {
		return outcomeSucceeded, nil
	}
	if errors.Is(err, remote.ErrNotFound) {
		// Already gone (spec §4.6 step 3).
		return outcomeSucceeded, nil
	}
	return outcomeRetriable, fmt.Errorf("translate delete %s/%s: %w", op.Table, op.EntityID, err)
}

// translateSet implements the remote-wins stale-basis check of spec
// §4.6 step 3: before updating, fetch the remote row's updated_at; if
// it is strictly newer than this op's basis timestamp, discard the op
// and report outcomeRemoteWins so the caller pulls the remote row in.
func (e *Engine) translateSet(ctx context.Context, op outbox.Op) (pushOutcome, error) {
	remoteRow, err := e.remote.Get(ctx, op.Table, op.EntityID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return outcomeRetriable, fmt.Errorf("translate set %s/%s: fetch remote: %w", op.Table, op.EntityID, err)
	}
	if err == nil && remoteRow.UpdatedAt.After(op.Timestamp) {
		return outcomeRemoteWins, nil
	}

	fields := setFields(op)
	if len(fields) == 0 {
		return outcomeSucceeded, nil
	}
	err = e.remote.Update(ctx, op.Table, op.EntityID, fields, time.Now(), e.deviceID)
	if err == nil {
		return outcomeSucceeded, nil
	}
	if errors.Is(err, remote.ErrNotFound) {
		// The row was deleted remotely between our Get and this Update;
		// treat like any other vanished target (§7 item 4 idempotence).
		return outcomeSucceeded, nil
	}
	return outcomeRetriable, fmt.Errorf("translate set %s/%s: %w", op.Table, op.EntityID, err)
}

func setFields(op outbox.Op) map[string]any {
	if op.Field != "" {
		return map[string]any{op.Field: op.Value}
	}
	if m, ok := op.Value.(outbox.MultiSetValue); ok {
		return map[string]any(m)
	}
	if m, ok := op.Value.(map[string]any); ok {
		return m
	}
	return nil
}

// translateIncrement implements the Open Question fix (spec §9): rather
// than a bare read-modify-write, it CASes on the remote row's current
// _version. A CAS failure is a stale-basis conflict, not a hard failure:
// the row is re-pulled at once and the op stays in the outbox as
// retriable, so a later drain retries it against the fresh basis.
func (e *Engine) translateIncrement(ctx context.Context, op outbox.Op) (pushOutcome, error) {
	delta, ok := op.Value.(float64)
	if !ok {
		return outcomeRetriable, fmt.Errorf("translate increment %s/%s.%s: value is not numeric", op.Table, op.EntityID, op.Field)
	}

	remoteRow, err := e.remote.Get(ctx, op.Table, op.EntityID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return outcomeRetriable, fmt.Errorf("translate increment %s/%s.%s: %w", op.Table, op.EntityID, op.Field, err)
		}
		return outcomeRetriable, fmt.Errorf("translate increment %s/%s.%s: fetch remote: %w", op.Table, op.EntityID, op.Field, err)
	}

	_, err = e.remote.UpdateWithVersionCAS(ctx, op.Table, op.EntityID, op.Field, delta, remoteRow.Version, time.Now(), e.deviceID)
	switch {
	case err == nil:
		return outcomeSucceeded, nil
	case errors.Is(err, remote.ErrStaleVersion):
		if perr := e.pullEntity(ctx, op.Table, op.EntityID); perr != nil {
			e.log.Warn(ctx, "syncengine: stale-version re-pull failed", "table", op.Table, "id", op.EntityID, "err", perr)
		}
		return outcomeRetriable, fmt.Errorf("translate increment %s/%s.%s: %w", op.Table, op.EntityID, op.Field, err)
	case errors.Is(err, remote.ErrNotFound):
		return outcomeSucceeded, nil
	default:
		return outcomeRetriable, fmt.Errorf("translate increment %s/%s.%s: %w", op.Table, op.EntityID, op.Field, err)
	}
}
