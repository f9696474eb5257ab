package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableValid(t *testing.T) {
	assert.True(t, TableGoals.Valid())
	assert.True(t, TableRoutineEntries.Valid())
	assert.False(t, Table("not_a_table").Valid())
}

func TestRowCloneIsIndependent(t *testing.T) {
	r := &Row{
		Envelope: Envelope{ID: "g1"},
		Table:    TableGoals,
		Fields:   Fields{"name": "Run 5k"},
	}
	cp := r.Clone()
	cp.Fields["name"] = "Run 10k"

	assert.Equal(t, "Run 5k", r.Fields["name"])
	assert.Equal(t, "Run 10k", cp.Fields["name"])
}

func TestNewIDIsUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
