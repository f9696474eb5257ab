package netmon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	online atomic.Bool
}

func (f *fakeProber) set(v bool) { f.online.Store(v) }

func (f *fakeProber) Probe(ctx context.Context) bool { return f.online.Load() }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestReconnectFiresAfterStabiliseDelay(t *testing.T) {
	prober := &fakeProber{}
	prober.set(false)

	var reconnects, disconnects atomic.Int32
	m := New(prober, 10*time.Millisecond, 20*time.Millisecond,
		func() { reconnects.Add(1) },
		func() { disconnects.Add(1) },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	prober.set(true)
	waitFor(t, time.Second, func() bool { return m.Online() })
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestDisconnectFiresImmediately(t *testing.T) {
	prober := &fakeProber{}
	prober.set(true)

	var disconnects atomic.Int32
	m := New(prober, 10*time.Millisecond, 20*time.Millisecond, nil, func() { disconnects.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.Online() })

	prober.set(false)
	waitFor(t, time.Second, func() bool { return !m.Online() })
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestOfflineOverrideForcesDisconnectedRegardlessOfProbe(t *testing.T) {
	prober := &fakeProber{}
	prober.set(true)

	dir := t.TempDir()
	sentinel := filepath.Join(dir, "offline")
	require.NoError(t, os.WriteFile(sentinel, []byte("1"), 0o644))

	m := New(prober, 10*time.Millisecond, 5*time.Millisecond, nil, nil, WithOfflineOverride(sentinel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.Online())
}

func TestNotifyForegroundTriggersImmediateCheck(t *testing.T) {
	prober := &fakeProber{}
	prober.set(false)

	var reconnects atomic.Int32
	m := New(prober, time.Hour, 0, func() { reconnects.Add(1) }, nil)

	ctx := context.Background()
	prober.set(true)
	m.NotifyForeground(ctx)

	assert.True(t, m.Online())
	assert.Equal(t, int32(1), reconnects.Load())
}
