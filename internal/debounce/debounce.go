// Package debounce provides a timer that batches rapid triggers into a
// single delayed action, guaranteeing at most one trailing fire even when
// triggered while the action is already running.
package debounce

import (
	"sync"
	"time"
)

// Debouncer schedules action to run once, a fixed duration after the most
// recent Trigger call. Safe for concurrent use. Used by the outbox push
// scheduler (spec §4.4) and by the sync status minimum-display hold
// (spec §4.9) — both need "reset timer on each call, fire exactly once
// after the last one" semantics.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
	action   func()
	seq      uint64
}

// New creates a Debouncer with the given duration and action.
func New(duration time.Duration, action func()) *Debouncer {
	return &Debouncer{duration: duration, action: action}
}

// Trigger (re)schedules action to run after duration has elapsed since
// this call. If called again before the timer fires, the previous timer
// is superseded: only one action runs per quiet period, and it is the
// one scheduled by the last Trigger.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.seq++
	currentSeq := d.seq

	d.timer = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		if d.seq != currentSeq {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		d.action()
	})
}

// Cancel stops any pending action. Safe to call when nothing is pending.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

// Pending reports whether an action is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
