package rtest

import (
	"context"
	"testing"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertThenDuplicateFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	row := &entity.Row{Envelope: entity.Envelope{ID: "g1", UserID: "u1", Version: 1}, Table: entity.TableGoals, Fields: entity.Fields{"name": "X"}}

	require.NoError(t, s.Insert(ctx, row))
	assert.ErrorIs(t, s.Insert(ctx, row), remote.ErrDuplicate)
}

func TestUpdateCASRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	row := &entity.Row{Envelope: entity.Envelope{ID: "g1", UserID: "u1", Version: 1}, Table: entity.TableGoals, Fields: entity.Fields{"current_value": 10.0}}
	require.NoError(t, s.Insert(ctx, row))

	_, err := s.UpdateWithVersionCAS(ctx, entity.TableGoals, "g1", "current_value", 5, 99, time.Now(), "dev-a")
	assert.ErrorIs(t, err, remote.ErrStaleVersion)

	newVersion, err := s.UpdateWithVersionCAS(ctx, entity.TableGoals, "g1", "current_value", 5, 1, time.Now(), "dev-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), newVersion)

	got, err := s.Get(ctx, entity.TableGoals, "g1")
	require.NoError(t, err)
	assert.Equal(t, 15.0, got.Fields["current_value"])
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	s := New()
	err := s.Delete(context.Background(), entity.TableGoals, "missing", time.Now(), "dev-a")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSelectSinceStableOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	s := New()
	ts := time.Now()
	require.NoError(t, s.Insert(ctx, &entity.Row{Envelope: entity.Envelope{ID: "a", UserID: "u1", UpdatedAt: ts, Version: 1}, Table: entity.TableGoals, Fields: entity.Fields{}}))
	require.NoError(t, s.Insert(ctx, &entity.Row{Envelope: entity.Envelope{ID: "b", UserID: "u1", UpdatedAt: ts, Version: 1}, Table: entity.TableGoals, Fields: entity.Fields{}}))
	require.NoError(t, s.Insert(ctx, &entity.Row{Envelope: entity.Envelope{ID: "c", UserID: "u1", UpdatedAt: ts.Add(time.Second), Version: 1}, Table: entity.TableGoals, Fields: entity.Fields{}}))

	rows, err := s.SelectSince(ctx, entity.TableGoals, "u1", ts, "a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "c", rows[1].ID)
}
