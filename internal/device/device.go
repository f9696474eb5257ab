// Package device implements the per-install identity of spec §4.2
// (component C2): a random unique id generated on first access and
// persisted outside the entity store, so a destructive local-data wipe
// does not regenerate it within the same install. Lower lexicographic
// value wins deterministic resolver ties (spec §4.2).
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/prabhask5/goalsync/internal/enginelock"
)

// defaultFileName is the device identity file's name under the
// directory passed to Load.
const defaultFileName = "device_id"

// Load returns the stable device id stored under dir, generating and
// persisting a new one on first access. lock guards the
// read-check-write race between two processes started at once,
// mirroring the teacher's flock-guarded sync lock.
func Load(dir string, lock *enginelock.Lock) (string, error) {
	if err := lock.TryAcquire(); err != nil {
		return "", fmt.Errorf("device: acquire lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	path := filepath.Join(dir, defaultFileName)
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("device: read %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("device: create %s: %w", dir, err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("device: write %s: %w", path, err)
	}
	return id, nil
}
