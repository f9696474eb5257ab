package enginelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondAcquireFailsWhileFirstHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	first := New(path)
	require.NoError(t, first.TryAcquire())
	defer func() { _ = first.Release() }()

	second := New(path)
	assert.ErrorIs(t, second.TryAcquire(), ErrAlreadyLocked)
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	first := New(path)
	require.NoError(t, first.TryAcquire())
	require.NoError(t, first.Release())

	second := New(path)
	assert.NoError(t, second.TryAcquire())
	_ = second.Release()
}
