package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhask5/goalsync/internal/engineconfig"
)

// runSyncctl executes rootCmd with args against a throwaway HOME/config
// directory, capturing stdout. Each invocation gets its own temp dir so
// the enginelock file never collides between subtests.
func runSyncctl(t *testing.T, args ...string) string {
	t.Helper()
	engineconfig.ResetForTesting()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Chdir(t.TempDir())

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	// Reset's confirmation prompt reads stdin; give it an already-closed
	// pipe so an unattended test run sees immediate EOF (declines) rather
	// than blocking.
	oldStdin := os.Stdin
	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	_ = stdinW.Close()
	os.Stdin = stdinR
	defer func() { os.Stdin = oldStdin }()

	rootCmd.SetArgs(args)
	err = rootCmd.Execute()

	_ = w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	require.NoError(t, err)
	return buf.String()
}

func TestStatusCommandOnFreshEngine(t *testing.T) {
	out := runSyncctl(t, "status")
	assert.Contains(t, out, "pending ops:     0")
	assert.Contains(t, out, "last sync:       never")
}

func TestPushCommandOnEmptyOutbox(t *testing.T) {
	out := runSyncctl(t, "push")
	assert.Contains(t, out, "0 op(s) still pending")
}

func TestPullCommandAdvancesNothingAgainstEmptyRemote(t *testing.T) {
	out := runSyncctl(t, "pull")
	assert.Contains(t, out, "pull complete")
}

func TestResetRequiresConfirmationWithoutYesFlag(t *testing.T) {
	out := runSyncctl(t, "reset")
	assert.Contains(t, out, "aborted")
}

func TestResetWithYesClearsState(t *testing.T) {
	out := runSyncctl(t, "reset", "--yes")
	assert.Contains(t, out, "local session state cleared")
}

func TestDoctorReportsAllChecks(t *testing.T) {
	out := runSyncctl(t, "doctor")
	assert.Contains(t, out, "Outbox depth")
	assert.Contains(t, out, "Realtime channel")
	assert.Contains(t, out, "Last reconcile")
}
