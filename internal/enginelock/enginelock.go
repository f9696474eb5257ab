// Package enginelock guards against two engine processes racing to
// create the device identity file or opening the same local store
// concurrently, adapted from the teacher's daemon/sync file-lock guard
// (cmd/bd/sync.go's flock.New("...sync.lock") pattern).
package enginelock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked is returned by TryAcquire when another process already
// holds the lock.
var ErrAlreadyLocked = fmt.Errorf("enginelock: another process holds the lock")

// Lock is a single-instance guard backed by an advisory file lock.
type Lock struct {
	flock *flock.Flock
}

// New returns a Lock guarding path, which must live outside the SQLite
// database file itself (flock on the db file would collide with the
// driver's own locking).
func New(path string) *Lock {
	return &Lock{flock: flock.New(path)}
}

// TryAcquire attempts a non-blocking exclusive lock, returning
// ErrAlreadyLocked if another process already holds it.
func (l *Lock) TryAcquire() error {
	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("enginelock: try-lock: %w", err)
	}
	if !locked {
		return ErrAlreadyLocked
	}
	return nil
}

// Release drops the lock. Safe to call even if TryAcquire was never
// called or failed.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
