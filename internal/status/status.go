// Package status implements the sync status observer (spec §4.9,
// component C9): a small state machine the UI layer reads to show
// "syncing" / "offline" / error banners, with a 500ms minimum-display
// debounce so a sync that completes in under half a second doesn't
// flicker the UI. Reuses internal/debounce.Debouncer, the same type the
// outbox's push scheduler uses, per SPEC_FULL.md's note that C4 and C9
// share one debounce primitive.
package status

import (
	"sync"
	"time"

	"github.com/prabhask5/goalsync/internal/debounce"
)

// Status is the coarse sync state shown to the UI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// RealtimeState mirrors internal/realtime.ChannelState without importing
// it, keeping this package free of any dependency on the channel
// transport.
type RealtimeState string

const (
	RealtimeDisconnected RealtimeState = "disconnected"
	RealtimeConnecting   RealtimeState = "connecting"
	RealtimeConnected    RealtimeState = "connected"
	RealtimeReconnecting RealtimeState = "reconnecting"
	RealtimeUnhealthy    RealtimeState = "unhealthy"
)

// State is the full observable snapshot of spec §4.9.
type State struct {
	Status           Status
	PendingCount     int
	LastError        string
	LastErrorDetails string
	LastSyncTime     time.Time
	SyncMessage      string
	RealtimeState    RealtimeState
}

// Listener receives every committed state transition (after the
// minimum-display debounce resolves it). Called outside any internal
// lock, so it may safely call back into the Observer.
type Listener func(State)

// minDisplay is the minimum-display debounce of spec §4.9.
const minDisplay = 500 * time.Millisecond

// Observer holds the current State and notifies subscribers of
// transitions, holding "syncing" for at least minDisplay before letting
// it revert even if the underlying sync completed sooner.
type Observer struct {
	mu    sync.Mutex
	state State

	enteredSyncingAt time.Time
	holding          bool
	pendingNext      Status
	holdTimer        *debounce.Debouncer

	listeners []Listener
}

// New creates an Observer in the idle state.
func New() *Observer {
	o := &Observer{state: State{Status: StatusIdle}}
	o.holdTimer = debounce.New(minDisplay, o.releaseHold)
	return o
}

// Subscribe registers l for every future transition. Returns an
// unsubscribe function.
func (o *Observer) Subscribe(l Listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
	idx := len(o.listeners) - 1
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if idx < len(o.listeners) {
			o.listeners[idx] = nil
		}
	}
}

// Snapshot returns the current state.
func (o *Observer) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// mutate runs fn with the lock held; fn reports whether the state
// actually changed. On change, mutate copies the new state and the
// listener list, releases the lock, and calls every listener — this is
// the only place the Observer calls out, always lock-free.
func (o *Observer) mutate(fn func() bool) {
	o.mu.Lock()
	changed := fn()
	if !changed {
		o.mu.Unlock()
		return
	}
	snapshot := o.state
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(snapshot)
		}
	}
}

// SetStatus requests a transition to next. Entering StatusSyncing always
// applies immediately and starts the minimum-display hold. Leaving
// StatusSyncing before minDisplay has elapsed is deferred until the hold
// expires (spec §4.9); redundant identical transitions are dropped.
func (o *Observer) SetStatus(next Status) {
	o.mutate(func() bool {
		if o.state.Status == next {
			return false
		}

		if next == StatusSyncing {
			o.state.Status = StatusSyncing
			o.enteredSyncingAt = time.Now()
			o.holding = true
			o.holdTimer.Trigger()
			return true
		}

		if o.state.Status == StatusSyncing && o.holding {
			if time.Since(o.enteredSyncingAt) < minDisplay {
				o.pendingNext = next
				return false
			}
		}

		o.state.Status = next
		return true
	})
}

// releaseHold is the debouncer's action: the minimum-display window has
// elapsed. If a later SetStatus call is waiting to leave "syncing", it
// is applied now.
func (o *Observer) releaseHold() {
	o.mutate(func() bool {
		o.holding = false
		if o.pendingNext == "" {
			return false
		}
		o.state.Status = o.pendingNext
		o.pendingNext = ""
		return true
	})
}

// SetPendingCount updates the outbox depth shown to the UI (spec §4.9).
func (o *Observer) SetPendingCount(n int) {
	o.mutate(func() bool {
		if o.state.PendingCount == n {
			return false
		}
		o.state.PendingCount = n
		return true
	})
}

// SetError records the last sync error and, if non-empty, transitions
// to StatusError. Clear with SetError("", "") once the condition
// resolves.
func (o *Observer) SetError(message, details string) {
	o.mutate(func() bool {
		if o.state.LastError == message && o.state.LastErrorDetails == details {
			return false
		}
		o.state.LastError = message
		o.state.LastErrorDetails = details
		return true
	})
	if message != "" {
		o.SetStatus(StatusError)
	}
}

// SetLastSyncTime records the timestamp of the last successful push or
// pull, shown to the UI.
func (o *Observer) SetLastSyncTime(t time.Time) {
	o.mutate(func() bool {
		o.state.LastSyncTime = t
		return true
	})
}

// SetSyncMessage sets a human-readable status line (e.g. "3 changes
// pending").
func (o *Observer) SetSyncMessage(msg string) {
	o.mutate(func() bool {
		if o.state.SyncMessage == msg {
			return false
		}
		o.state.SyncMessage = msg
		return true
	})
}

// SetRealtimeState updates the realtime channel's state machine
// position (spec §4.8), surfaced here so the UI has one place to read
// both push/pull and realtime health.
func (o *Observer) SetRealtimeState(s RealtimeState) {
	o.mutate(func() bool {
		if o.state.RealtimeState == s {
			return false
		}
		o.state.RealtimeState = s
		return true
	})
}
