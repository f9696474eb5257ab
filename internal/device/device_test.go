package device

import (
	"path/filepath"
	"testing"

	"github.com/prabhask5/goalsync/internal/enginelock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesAndPersistsOnce(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(t.TempDir(), "device.lock")

	id1, err := Load(dir, enginelock.New(lockPath))
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := Load(dir, enginelock.New(lockPath))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
