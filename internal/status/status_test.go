package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedundantTransitionsAreDropped(t *testing.T) {
	o := New()
	var transitions int
	o.Subscribe(func(State) { transitions++ })

	o.SetStatus(StatusIdle) // already idle
	assert.Equal(t, 0, transitions)

	o.SetStatus(StatusOffline)
	assert.Equal(t, 1, transitions)
	o.SetStatus(StatusOffline)
	assert.Equal(t, 1, transitions)
}

func TestSyncingHeldForMinimumDisplayWindow(t *testing.T) {
	o := New()
	var states []Status
	o.Subscribe(func(s State) { states = append(states, s.Status) })

	o.SetStatus(StatusSyncing)
	require.Equal(t, []Status{StatusSyncing}, states)

	// Leaving syncing immediately must be deferred until minDisplay
	// elapses (spec §4.9).
	o.SetStatus(StatusIdle)
	assert.Equal(t, []Status{StatusSyncing}, states, "idle transition must not be visible yet")
	assert.Equal(t, StatusSyncing, o.Snapshot().Status)

	require.Eventually(t, func() bool {
		return o.Snapshot().Status == StatusIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Status{StatusSyncing, StatusIdle}, states)
}

func TestSyncingPastMinimumDisplayLeavesImmediately(t *testing.T) {
	o := New()
	o.SetStatus(StatusSyncing)
	time.Sleep(600 * time.Millisecond)

	o.SetStatus(StatusIdle)
	assert.Equal(t, StatusIdle, o.Snapshot().Status)
}

func TestSetErrorTransitionsToErrorStatus(t *testing.T) {
	o := New()
	o.SetError("push failed", "connection refused")

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "push failed", snap.LastError)
	assert.Equal(t, "connection refused", snap.LastErrorDetails)
}

func TestPendingCountAndRealtimeStateUpdateIndependently(t *testing.T) {
	o := New()
	o.SetPendingCount(3)
	o.SetRealtimeState(RealtimeConnected)

	snap := o.Snapshot()
	assert.Equal(t, 3, snap.PendingCount)
	assert.Equal(t, RealtimeConnected, snap.RealtimeState)
}
