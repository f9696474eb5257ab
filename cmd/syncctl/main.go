// Command syncctl is a small ops harness over the sync engine, exactly
// the way cmd/bd is an ops harness over the teacher's issue tracker: it
// exists to exercise and inspect a running engine from a terminal, not
// to satisfy a spec requirement.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/prabhask5/goalsync/internal/applog"
	"github.com/prabhask5/goalsync/internal/device"
	"github.com/prabhask5/goalsync/internal/engineconfig"
	"github.com/prabhask5/goalsync/internal/enginelock"
	"github.com/prabhask5/goalsync/internal/netmon"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/remote"
	"github.com/prabhask5/goalsync/internal/remote/postgres"
	"github.com/prabhask5/goalsync/internal/remote/rtest"
	"github.com/prabhask5/goalsync/internal/store"
	"github.com/prabhask5/goalsync/internal/syncengine"
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Inspect and drive the goalsync engine from the command line",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the live collaborators a subcommand needs, torn down by
// close() once the command returns.
type app struct {
	store  *store.Store
	remote remote.Store
	engine *syncengine.Engine
	lock   *enginelock.Lock
}

func (a *app) close() {
	a.engine.Stop()
	a.remote.Close()
	_ = a.store.Close()
	_ = a.lock.Release()
}

// openApp wires one engine instance the way an embedding application
// would at startup: load config, acquire the single-instance lock,
// resolve device identity, open the local store, pick a remote store
// implementation, build the network monitor, and start the engine.
func openApp(ctx context.Context) (*app, error) {
	if err := engineconfig.Initialize(); err != nil {
		return nil, fmt.Errorf("syncctl: load config: %w", err)
	}

	dbPath := engineconfig.DatabasePath()
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("syncctl: create %s: %w", dir, err)
	}

	lock := enginelock.New(filepath.Join(dir, "engine.lock"))
	if err := lock.TryAcquire(); err != nil {
		return nil, fmt.Errorf("syncctl: another syncctl/engine process is already running against %s: %w", dir, err)
	}

	deviceID, err := device.Load(dir, enginelock.New(filepath.Join(dir, "device.lock")))
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	s, err := store.Open(ctx, dbPath)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("syncctl: open store: %w", err)
	}

	remoteCfg := engineconfig.Remote()
	rs, err := openRemote(ctx, remoteCfg)
	if err != nil {
		_ = s.Close()
		_ = lock.Release()
		return nil, err
	}

	probeCfg := engineconfig.Probe()
	monitor := buildMonitor(probeCfg)

	var eng *syncengine.Engine
	ob := outbox.New(s, deviceID, func() { eng.SchedulePush() })

	cfg := engineconfig.EngineConfig()
	cfg.DeviceID = deviceID
	eng = syncengine.New(cfg, s, ob, rs, monitor)

	if err := eng.Start(ctx, nil); err != nil {
		rs.Close()
		_ = s.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("syncctl: start engine: %w", err)
	}

	return &app{store: s, remote: rs, engine: eng, lock: lock}, nil
}

// openRemote picks a concrete remote.Store. A configured Postgres DSN
// wins; otherwise syncctl falls back to the in-memory rtest fake so the
// CLI is usable against a throwaway local session without standing up
// a database, logging a warning so the fallback is never silent.
func openRemote(ctx context.Context, cfg engineconfig.RemoteConfig) (remote.Store, error) {
	if cfg.DSN == "" {
		applog.For("syncctl").Warn(ctx, "no remote.dsn configured; using an in-memory remote store that does not persist across runs")
		return rtest.New(), nil
	}
	rs, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("syncctl: open postgres remote: %w", err)
	}
	return rs, nil
}

func buildMonitor(cfg engineconfig.ProbeConfig) *netmon.Monitor {
	var prober netmon.Prober
	if cfg.URL != "" {
		prober = netmon.HTTPHeadProber{URL: cfg.URL}
	} else {
		prober = netmon.TCPProber{Addr: "1.1.1.1:443"}
	}

	var opts []netmon.Option
	if cfg.OfflineOverride != "" {
		opts = append(opts, netmon.WithOfflineOverride(cfg.OfflineOverride))
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	stabilise := cfg.StabiliseDelay
	if stabilise <= 0 {
		stabilise = 500 * time.Millisecond
	}

	return netmon.New(prober, interval, stabilise, func() {}, func() {}, opts...)
}
