package compactor

import (
	"testing"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(seq int64, table entity.Table, id string, kind outbox.Kind, field string, value any) outbox.Op {
	return outbox.Op{Seq: seq, Table: table, EntityID: id, Kind: kind, Field: field, Value: value, Timestamp: time.Unix(1700000000+seq, 0)}
}

// TestCompactIsIdempotent covers spec §8 item 2 across a representative
// mixed outbox.
func TestCompactIsIdempotent(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindCreate, "", map[string]any{"name": "Run", "current_value": 0.0}),
		op(2, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 1.0),
		op(3, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 1.0),
		op(4, entity.TableGoals, "g2", outbox.KindCreate, "", map[string]any{"name": "Swim"}),
		op(5, entity.TableGoals, "g2", outbox.KindSet, "name", "Swimming"),
		op(6, entity.TableGoals, "g2", outbox.KindDelete, "", nil),
	}

	once := Compact(ops)
	twice := Compact(once)
	assert.Equal(t, once, twice)
}

// TestFiftyIncrementsCollapseToOne covers spec §8 item 4.
func TestFiftyIncrementsCollapseToOne(t *testing.T) {
	var ops []outbox.Op
	ops = append(ops, op(1, entity.TableRoutineEntries, "re1", outbox.KindCreate, "", map[string]any{"current_value": 0.0}))
	for i := int64(0); i < 50; i++ {
		ops = append(ops, op(2+i, entity.TableRoutineEntries, "re1", outbox.KindIncrement, "current_value", 1.0))
	}

	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.KindCreate, got[0].Kind)
	payload := got[0].Value.(map[string]any)
	assert.Equal(t, 50.0, payload["current_value"])
}

// TestCreateThenDeleteCancels covers spec §8 item 5 / §8 S6.
func TestCreateThenDeleteCancels(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindCreate, "", map[string]any{"name": "X"}),
		op(2, entity.TableGoals, "g1", outbox.KindSet, "name", "Y"),
		op(3, entity.TableGoals, "g1", outbox.KindDelete, "", nil),
	}
	got := Compact(ops)
	assert.Empty(t, got)
}

func TestUpdatesThenDeleteWithoutCreateKeepsOnlyDelete(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindSet, "name", "Y"),
		op(2, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 3.0),
		op(3, entity.TableGoals, "g1", outbox.KindDelete, "", nil),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.KindDelete, got[0].Kind)
}

func TestIncrementThenSetDropsIncrement(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 5.0),
		op(2, entity.TableGoals, "g1", outbox.KindSet, "current_value", 42.0),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.KindSet, got[0].Kind)
	assert.Equal(t, 42.0, got[0].Value)
}

func TestSetThenIncrementSumsWhenNumeric(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindSet, "current_value", 10.0),
		op(2, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 5.0),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.KindSet, got[0].Kind)
	assert.Equal(t, 15.0, got[0].Value)
}

func TestConsecutiveSetsLastWins(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindSet, "name", "A"),
		op(2, entity.TableGoals, "g1", outbox.KindSet, "name", "B"),
		op(3, entity.TableGoals, "g1", outbox.KindSet, "name", "C"),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].Value)
}

func TestMultiFieldSetsMergeLaterOverrides(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindSet, "", outbox.MultiSetValue{"name": "A", "priority": 1.0}),
		op(2, entity.TableGoals, "g1", outbox.KindSet, "", outbox.MultiSetValue{"priority": 2.0}),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	merged := got[0].Value.(outbox.MultiSetValue)
	assert.Equal(t, "A", merged["name"])
	assert.Equal(t, 2.0, merged["priority"])
}

func TestZeroIncrementEliminated(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 0.0),
	}
	got := Compact(ops)
	assert.Empty(t, got)
}

func TestUpdatedAtOnlySetEliminated(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindSet, "updated_at", "2026-01-01T00:00:00Z"),
	}
	got := Compact(ops)
	assert.Empty(t, got)
}

// TestOldestTimestampPreserved covers spec §4.5 step 6: a collapse must
// not reset the backoff clock.
func TestOldestTimestampPreserved(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 1.0),
		op(2, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 1.0),
	}
	got := Compact(ops)
	require.Len(t, got, 1)
	assert.Equal(t, ops[0].Timestamp, got[0].Timestamp)
}

// TestDifferentEntitiesNotCrossed ensures compaction never merges across
// distinct (table, entityId) groups.
func TestDifferentEntitiesNotCrossed(t *testing.T) {
	ops := []outbox.Op{
		op(1, entity.TableGoals, "g1", outbox.KindIncrement, "current_value", 1.0),
		op(2, entity.TableGoals, "g2", outbox.KindIncrement, "current_value", 1.0),
	}
	got := Compact(ops)
	require.Len(t, got, 2)
}
