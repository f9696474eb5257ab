package resolver

import (
	"testing"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(id string, updated time.Time, version int64, deviceID string, deleted bool, fields entity.Fields) *entity.Row {
	return &entity.Row{
		Envelope: entity.Envelope{ID: id, UserID: "u1", UpdatedAt: updated, Version: version, DeviceID: deviceID, Deleted: deleted},
		Table:    entity.TableGoals,
		Fields:   fields,
	}
}

func TestTrivialLocalAbsent(t *testing.T) {
	remote := row("g1", time.Now(), 1, "dev-b", false, entity.Fields{"name": "X"})
	merged, conflicts := Resolve(nil, remote, nil)
	assert.Equal(t, remote.Fields["name"], merged.Fields["name"])
	assert.Empty(t, conflicts)
}

func TestTrivialIdenticalEnvelopeIsNoOp(t *testing.T) {
	ts := time.Now()
	local := row("g1", ts, 3, "dev-a", false, entity.Fields{"name": "X"})
	remote := row("g1", ts, 3, "dev-a", false, entity.Fields{"name": "Y"})
	merged, conflicts := Resolve(local, remote, nil)
	assert.Equal(t, "X", merged.Fields["name"])
	assert.Empty(t, conflicts)
}

// TestPendingOpShield covers spec §8 item 9: a pending increment keeps
// the local numeric value untouched even when a remote snapshot arrives.
func TestPendingOpShield(t *testing.T) {
	older := time.Now().Add(-time.Minute)
	newer := time.Now()
	local := row("g1", older, 1, "dev-a", false, entity.Fields{"current_value": 15.0})
	remote := row("g1", newer, 2, "dev-b", false, entity.Fields{"current_value": 10.0})

	pending := []outbox.Op{{Table: entity.TableGoals, EntityID: "g1", Kind: outbox.KindIncrement, Field: "current_value", Value: 5.0}}

	merged, conflicts := Resolve(local, remote, pending)
	require.Len(t, conflicts, 1)
	assert.Equal(t, StrategyLocalPending, conflicts[0].Strategy)
	assert.Equal(t, 15.0, merged.Fields["current_value"])
}

// TestDeleteWins covers spec §8 item 6 and S3: remote deleted beats a
// pending local rename on the deleted field, but the other field still
// reflects local intent.
func TestDeleteWins(t *testing.T) {
	ts := time.Now()
	local := row("g1", ts, 1, "dev-a", false, entity.Fields{"name": "X"})
	remote := row("g1", ts.Add(time.Second), 2, "dev-b", true, entity.Fields{"name": "X"})

	pending := []outbox.Op{{Table: entity.TableGoals, EntityID: "g1", Kind: outbox.KindSet, Field: "name", Value: "X"}}

	merged, conflicts := Resolve(local, remote, pending)
	assert.True(t, merged.Deleted)
	var deletedConflict *Conflict
	for i := range conflicts {
		if conflicts[i].Field == "deleted" {
			deletedConflict = &conflicts[i]
		}
	}
	require.NotNil(t, deletedConflict)
	assert.Equal(t, StrategyDeleteWins, deletedConflict.Strategy)
}

// TestResurrectionSafety covers spec §8 item 7 / S5: once deleted=true
// has been accepted, an older stray update with deleted=false cannot
// flip it back.
func TestResurrectionSafety(t *testing.T) {
	deletedAt := time.Now()
	local := row("g1", deletedAt, 5, "dev-a", true, entity.Fields{"name": "X"})
	stray := row("g1", deletedAt.Add(-time.Hour), 3, "dev-b", false, entity.Fields{"name": "X"})

	merged, _ := Resolve(local, stray, nil)
	assert.True(t, merged.Deleted)
}

// TestDeterministicTiebreak covers spec §8 item 8: both devices converge
// on the same winner given equal timestamps.
func TestDeterministicTiebreak(t *testing.T) {
	ts := time.Now()
	a := row("g1", ts, 1, "dev-aaa", false, entity.Fields{"name": "fromA"})
	b := row("g1", ts, 1, "dev-bbb", false, entity.Fields{"name": "fromB"})

	mergedOnA, _ := Resolve(a, b, nil)
	mergedOnB, _ := Resolve(b, a, nil)

	assert.Equal(t, "fromA", mergedOnA.Fields["name"])
	assert.Equal(t, "fromA", mergedOnB.Fields["name"])
}

func TestLastWriteWinsByTimestamp(t *testing.T) {
	older := time.Now().Add(-time.Minute)
	newer := time.Now()
	local := row("g1", older, 1, "dev-a", false, entity.Fields{"name": "old"})
	remote := row("g1", newer, 2, "dev-b", false, entity.Fields{"name": "new"})

	merged, conflicts := Resolve(local, remote, nil)
	assert.Equal(t, "new", merged.Fields["name"])
	require.Len(t, conflicts, 1)
	assert.Equal(t, WinnerRemote, conflicts[0].Winner)
	assert.Equal(t, StrategyLastWrite, conflicts[0].Strategy)
}

func TestVersionAlwaysIncreasesOnMerge(t *testing.T) {
	ts := time.Now()
	local := row("g1", ts.Add(-time.Second), 4, "dev-a", false, entity.Fields{"name": "a"})
	remote := row("g1", ts, 7, "dev-b", false, entity.Fields{"name": "b"})

	merged, _ := Resolve(local, remote, nil)
	assert.Equal(t, int64(8), merged.Version)
}
