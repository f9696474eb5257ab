// Package netmon implements the network monitor of spec §4.3 (component
// C3): a reactive "online" boolean plus reconnect/disconnect hooks. A Go
// engine has no navigator.onLine binding, so "online" is modeled as a
// pluggable Prober the embedding application configures (default:
// periodic TCP dial / HTTP HEAD against the remote store's health
// endpoint).
package netmon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prabhask5/goalsync/internal/applog"
)

// Prober reports whether the remote is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor tracks online/offline transitions and fires reconnect /
// disconnect hooks with the 500ms stabilisation delay of spec §4.3.
type Monitor struct {
	prober       Prober
	interval     time.Duration
	stabilise    time.Duration
	onReconnect  func()
	onDisconnect func()
	log          applog.Logger

	// offlineOverride lets tests/dev simulate connectivity loss via a
	// sentinel file, watched with fsnotify the way the teacher watches
	// its activity/config files (cmd/bd/activity_watcher.go).
	offlineOverridePath string
	watcher             *fsnotify.Watcher

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithOfflineOverride watches path; while it exists, the monitor reports
// offline regardless of the Prober's result.
func WithOfflineOverride(path string) Option {
	return func(m *Monitor) { m.offlineOverridePath = path }
}

// New creates a Monitor. interval is the probe period; stabilise is the
// reconnect stabilisation delay (spec §4.3 default: 500ms).
func New(prober Prober, interval, stabilise time.Duration, onReconnect, onDisconnect func(), opts ...Option) *Monitor {
	m := &Monitor{
		prober:       prober,
		interval:     interval,
		stabilise:    stabilise,
		onReconnect:  onReconnect,
		onDisconnect: onDisconnect,
		log:          applog.For("netmon"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the monitor's current view of connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start begins probing in the background.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.offlineOverridePath != "" {
		// Watch the containing directory rather than the sentinel file
		// itself: the file may not exist yet, and fsnotify.Add fails on a
		// missing path. Mirrors activity_watcher.go's fallback-tolerant
		// setup.
		if w, err := fsnotify.NewWatcher(); err == nil {
			if err := w.Add(filepath.Dir(m.offlineOverridePath)); err != nil {
				m.log.Warn(ctx, "netmon: offline override watch failed", "err", err)
				_ = w.Close()
			} else {
				m.watcher = w
				go m.watchOverride(ctx)
			}
		} else {
			m.log.Warn(ctx, "netmon: offline override watcher unavailable", "err", err)
		}
	}

	go m.loop(ctx)
}

// watchOverride debounces fsnotify events on the sentinel file's
// directory into an immediate recheck, the same debounce shape as
// activity_watcher.go's startFSWatch.
func (m *Monitor) watchOverride(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.offlineOverridePath) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(50*time.Millisecond, func() { m.check(ctx) })
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn(ctx, "netmon: offline override watch error", "err", err)
		}
	}
}

// Stop cancels the background probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

// NotifyForeground is the Go-native analogue of "tab became visible"
// (spec §4.3): the embedding application calls this when it detects the
// process resumed from suspend, prompting an immediate probe instead of
// waiting for the next tick.
func (m *Monitor) NotifyForeground(ctx context.Context) {
	m.check(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probed := m.prober.Probe(ctx)
	if m.offlineOverridden() {
		probed = false
	}

	m.mu.Lock()
	was := m.online
	m.mu.Unlock()

	if probed == was {
		return
	}

	if probed {
		// Reconnect stabilisation delay (spec §4.3): wait, then re-check
		// once before declaring online, to avoid flapping on a brief blip.
		time.Sleep(m.stabilise)
		if !m.prober.Probe(ctx) || m.offlineOverridden() {
			return
		}
	}

	m.mu.Lock()
	m.online = probed
	m.mu.Unlock()

	if probed {
		if m.onReconnect != nil {
			m.onReconnect()
		}
	} else if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

func (m *Monitor) offlineOverridden() bool {
	if m.offlineOverridePath == "" {
		return false
	}
	_, err := os.Stat(m.offlineOverridePath)
	return err == nil
}
