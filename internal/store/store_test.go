package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CountOutboxOps(context.Background())
	require.NoError(t, err)
}

func TestPutAndGetEntityRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &entity.Row{
		Envelope: entity.Envelope{
			ID:        "g1",
			UserID:    "u1",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
			Version:   1,
			DeviceID:  "dev-a",
		},
		Table:  entity.TableGoals,
		Fields: entity.Fields{"name": "Run 5k", "current_value": float64(0)},
	}

	err := s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.PutEntity(ctx, row)
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, entity.TableGoals, "g1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, "Run 5k", got.Fields["name"])
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), entity.TableGoals, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestOutboxEntityAtomicity verifies spec §3's core invariant: a
// committed entity mutation implies at least one committed outbox
// operation for it, in the same transaction, and vice versa.
func TestOutboxEntityAtomicity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &entity.Row{
		Envelope: entity.Envelope{ID: "g2", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Version: 1},
		Table:    entity.TableGoals,
		Fields:   entity.Fields{"name": "Read"},
	}

	err := s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		_, err := tx.AppendOutboxOp(ctx, OutboxRow{
			Table: entity.TableGoals, EntityID: "g2", Kind: "create",
			Value: `{"name":"Read"}`, Timestamp: formatTime(time.Now()),
		})
		return err
	})
	require.NoError(t, err)

	ops, err := s.OutboxOpsForEntity(ctx, entity.TableGoals, "g2")
	require.NoError(t, err)
	require.Len(t, ops, 1)

	_, err = s.Get(ctx, entity.TableGoals, "g2")
	require.NoError(t, err)
}

// TestOutboxEntityAtomicityRollsBackTogether verifies that an error after
// the entity write but before the outbox append rolls both back.
func TestOutboxEntityAtomicityRollsBackTogether(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &entity.Row{
		Envelope: entity.Envelope{ID: "g3", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Version: 1},
		Table:    entity.TableGoals,
		Fields:   entity.Fields{"name": "Swim"},
	}

	err := s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.PutEntity(ctx, row); err != nil {
			return err
		}
		return assertError("simulated failure before outbox append")
	})
	require.Error(t, err)

	_, getErr := s.Get(ctx, entity.TableGoals, "g3")
	require.ErrorIs(t, getErr, ErrNotFound)
	ops, err := s.OutboxOpsForEntity(ctx, entity.TableGoals, "g3")
	require.NoError(t, err)
	require.Empty(t, ops)
}

func assertError(msg string) error {
	return &simpleErr{msg}
}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func TestQuerySinceIsStablySortedAndIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"r1", "r2", "r3"} {
		row := &entity.Row{
			Envelope: entity.Envelope{
				ID: id, UserID: "u1",
				CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Second),
				Version: 1,
			},
			Table:  entity.TableGoals,
			Fields: entity.Fields{},
		}
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error { return tx.PutEntity(ctx, row) }))
	}

	got, err := s.QuerySince(ctx, entity.TableGoals, base.Add(-time.Second), "", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"r1", "r2", "r3"}, []string{got[0].ID, got[1].ID, got[2].ID})

	// Re-running with the advanced cursor yields no additional rows.
	maxUpdated := got[len(got)-1].UpdatedAt
	again, err := s.QuerySince(ctx, entity.TableGoals, maxUpdated, got[len(got)-1].ID, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestQueryRoutineEntriesCompositeIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &entity.Row{
		Envelope: entity.Envelope{ID: "re1", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Version: 1},
		Table:    entity.TableRoutineEntries,
		Fields:   entity.Fields{"routine_id": "routine-1", "date": "2026-08-01"},
	}
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error { return tx.PutEntity(ctx, row) }))

	got, err := s.QueryRoutineEntriesByRoutineAndDate(ctx, "routine-1", "2026-08-01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "re1", got[0].ID)

	none, err := s.QueryRoutineEntriesByRoutineAndDate(ctx, "routine-1", "2026-08-02")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRetentionSweepHardDeletesAgedTombstones(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	row := &entity.Row{
		Envelope: entity.Envelope{ID: "old1", UserID: "u1", CreatedAt: old, UpdatedAt: old, Deleted: true, Version: 2},
		Table:    entity.TableGoals,
		Fields:   entity.Fields{},
	}
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error { return tx.PutEntity(ctx, row) }))

	recent := &entity.Row{
		Envelope: entity.Envelope{ID: "new1", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(), Deleted: true, Version: 2},
		Table:    entity.TableGoals,
		Fields:   entity.Fields{},
	}
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error { return tx.PutEntity(ctx, recent) }))

	swept, err := s.RetentionSweep(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	_, err = s.Get(ctx, entity.TableGoals, "old1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, entity.TableGoals, "new1")
	require.NoError(t, err)
}
