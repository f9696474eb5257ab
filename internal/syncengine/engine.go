// Package syncengine implements the pull/push engine (spec §4.6,
// component C6): the single in-flight drain gate, the periodic pull
// reconcile, and the wiring between the local store, the outbox, the
// compactor, the remote store, the conflict resolver, realtime ingress,
// the network monitor and the sync status observer. Remote access goes
// exclusively through the remote.Store interface so the engine never
// imports a specific driver, mirroring how the teacher's cmd/bd sync
// commands only ever talk to the storage.Store interface.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prabhask5/goalsync/internal/applog"
	"github.com/prabhask5/goalsync/internal/debounce"
	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/netmon"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/realtime"
	"github.com/prabhask5/goalsync/internal/remote"
	"github.com/prabhask5/goalsync/internal/store"
)

// lastSyncKey is the sync_meta row holding the pull cursor (spec §6).
const lastSyncKey = "last_sync_timestamp"

// reconcileInterval is the periodic pull tick when the realtime channel
// is not healthy (spec §4.6: "a periodic 15-minute tick").
const reconcileInterval = 15 * time.Minute

// pushDebounce is the outbox push scheduling window (spec §4.4:
// "1.5-2.0 seconds").
const pushDebounce = 1750 * time.Millisecond

// pullPageSize bounds one SelectSince page (spec §4.6 "page the
// result").
const pullPageSize = 200

// retentionInterval is the default cadence of the tombstone sweep (spec
// §9 SHOULD: "run by the engine on a daily ticker").
const retentionInterval = 24 * time.Hour

// retentionAge is the default minimum tombstone age the sweep hard-deletes
// (spec §9 SHOULD: 30 days).
const retentionAge = 30 * 24 * time.Hour

// Config carries the few knobs SPEC_FULL.md's Open Question decisions
// leave tunable, sourced from internal/engineconfig at the edges of the
// process rather than hardcoded here.
type Config struct {
	UserID            string
	DeviceID          string
	PushDebounce      time.Duration
	ReconcileInterval time.Duration
	EchoWindow        time.Duration
	EditTTL           time.Duration
	DeleteAnimation   time.Duration
	RetentionInterval time.Duration
	RetentionAge      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PushDebounce <= 0 {
		c.PushDebounce = pushDebounce
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = reconcileInterval
	}
	if c.EchoWindow <= 0 {
		c.EchoWindow = 2 * time.Second
	}
	if c.EditTTL <= 0 {
		c.EditTTL = 2 * time.Minute
	}
	if c.DeleteAnimation <= 0 {
		c.DeleteAnimation = 500 * time.Millisecond
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = retentionInterval
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = retentionAge
	}
	return c
}

// Engine is the top-level object the embedding application constructs
// once per signed-in session. It owns the debounce timer, the periodic
// reconcile ticker, and the single in-flight drain gate (spec §5: "there
// is exactly one drain in flight at a time").
type Engine struct {
	cfg      Config
	userID   string
	deviceID string

	store   *store.Store
	outbox  *outbox.Log
	remote  remote.Store
	ingress *realtime.Ingress
	monitor *netmon.Monitor

	bus *bus
	log applog.Logger

	pushDebouncer *debounce.Debouncer
	drainMu       sync.Mutex
	draining      bool

	ticker          *time.Ticker
	retentionTicker *time.Ticker
	cancelLoop      context.CancelFunc
	wg              sync.WaitGroup

	channelHealthy sync.Mutex
	healthy        bool
}

// New wires an Engine. ob must already be constructed over the same
// store. New does not install the outbox's onEnqueue hook; the caller
// passes a function that calls SchedulePush to outbox.New, so that every
// enqueue schedules a push (spec §4.4).
func New(cfg Config, s *store.Store, ob *outbox.Log, rs remote.Store, monitor *netmon.Monitor) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		userID:   cfg.UserID,
		deviceID: cfg.DeviceID,
		store:    s,
		outbox:   ob,
		remote:   rs,
		monitor:  monitor,
		bus:      newBus(),
		log:      applog.For("syncengine"),
		healthy:  true,
	}
	e.pushDebouncer = debounce.New(cfg.PushDebounce, e.runPushDrain)

	e.ingress = realtime.New(s, ob, cfg.EchoWindow, cfg.EditTTL, cfg.DeleteAnimation, e.onRealtimeApplied)
	return e
}

// SchedulePush is the outbox's onEnqueue hook (spec §4.4): it
// (re)schedules a trailing drain, cancelled/collapsed the way
// debounce.Debouncer guarantees.
func (e *Engine) SchedulePush() {
	e.pushDebouncer.Trigger()
}

// Subscribe registers l on the engine's event bus (postPush, postPull,
// realtimeApplied, entityChanged — spec §4.10).
func (e *Engine) Subscribe(l Listener) func() {
	return e.bus.Subscribe(l)
}

// Start begins the network monitor, the realtime subscription (if
// provider is non-nil), and the periodic reconcile ticker. If online, it
// performs an immediate pull reconcile (spec §4.6: "triggered by: engine
// start (if online)").
func (e *Engine) Start(ctx context.Context, provider realtime.ChannelProvider) error {
	if e.cfg.EchoWindow < e.cfg.PushDebounce {
		return fmt.Errorf("syncengine: echo window %s is shorter than the push debounce %s", e.cfg.EchoWindow, e.cfg.PushDebounce)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancelLoop = cancel

	if e.monitor != nil {
		e.monitor.Start(ctx)
	}

	if provider != nil {
		if err := e.ingress.Subscribe(ctx, provider, e.userID); err != nil {
			return fmt.Errorf("syncengine: subscribe realtime: %w", err)
		}
	}

	e.ticker = time.NewTicker(e.cfg.ReconcileInterval)
	e.wg.Add(1)
	go e.reconcileLoop(ctx)

	e.retentionTicker = time.NewTicker(e.cfg.RetentionInterval)
	e.wg.Add(1)
	go e.retentionLoop(ctx)

	if e.online() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.Pull(ctx); err != nil {
				e.log.Warn(ctx, "syncengine: initial pull failed", "err", err)
			}
		}()
	}
	return nil
}

// Stop cancels the debounce timer and the reconcile loop, and
// unsubscribes the realtime channel (spec §5: "engine stop cancels the
// debounce timer and unsubscribes the channel; it does not abort a
// mutation already submitted to remote").
func (e *Engine) Stop() {
	e.pushDebouncer.Cancel()
	if e.cancelLoop != nil {
		e.cancelLoop()
	}
	if e.ticker != nil {
		e.ticker.Stop()
	}
	if e.retentionTicker != nil {
		e.retentionTicker.Stop()
	}
	e.ingress.Close()
	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.wg.Wait()
}

// Logout tears down session state (spec §6): unsubscribes the realtime
// channel, then clears local entity tables, outbox, conflict history and
// cursor inside one transaction. The caller is responsible for
// calling Stop afterward if the process is exiting rather than
// switching users.
func (e *Engine) Logout(ctx context.Context) error {
	e.ingress.Close()
	if err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.ClearAllTables(ctx)
	}); err != nil {
		return fmt.Errorf("syncengine: logout clear tables: %w", err)
	}
	return nil
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ticker.C:
			if !e.realtimeHealthy() {
				if err := e.Pull(ctx); err != nil {
					e.log.Warn(ctx, "syncengine: periodic reconcile failed", "err", err)
				}
			}
		}
	}
}

// retentionLoop hard-deletes tombstones older than cfg.RetentionAge on
// cfg.RetentionInterval (spec §9 SHOULD), bounding local storage growth
// the way the periodic reconcile ticker bounds pull staleness.
func (e *Engine) retentionLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.retentionTicker.C:
			n, err := e.store.RetentionSweep(ctx, e.cfg.RetentionAge)
			if err != nil {
				e.log.Warn(ctx, "syncengine: retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				e.log.Info(ctx, "syncengine: retention sweep hard-deleted tombstones", "count", n)
			}
		}
	}
}

// LastSyncTime returns the persisted pull cursor (spec §6), or the zero
// time and false if no pull reconcile has ever completed.
func (e *Engine) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	t, err := e.loadCursor(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, !t.IsZero(), nil
}

// Outbox returns the outbox log this engine drains, for callers (e.g.
// cmd/syncctl doctor) that need outbox depth or per-entity op history
// without reaching back into the store directly.
func (e *Engine) Outbox() *outbox.Log { return e.outbox }

// RealtimeHealthy reports whether the realtime channel is currently
// considered healthy (spec §4.8).
func (e *Engine) RealtimeHealthy() bool { return e.realtimeHealthy() }

func (e *Engine) online() bool {
	if e.monitor == nil {
		return true
	}
	return e.monitor.Online()
}

// Online reports the network monitor's current reachability state.
func (e *Engine) Online() bool { return e.online() }

func (e *Engine) realtimeHealthy() bool {
	e.channelHealthy.Lock()
	defer e.channelHealthy.Unlock()
	return e.healthy
}

// SetRealtimeHealthy is called by the embedding application's channel
// state handler (a thin adapter over realtime.Handler.HandleState) so
// the periodic reconcile tick knows when to act as fallback (spec §4.8:
// "After 5 failures, channel is marked unhealthy; C6's periodic polling
// tick becomes the fallback").
func (e *Engine) SetRealtimeHealthy(healthy bool) {
	e.channelHealthy.Lock()
	e.healthy = healthy
	e.channelHealthy.Unlock()
}

func (e *Engine) onRealtimeApplied(table entity.Table, id string) {
	e.bus.Publish(Event{Kind: EventRealtimeApplied, Table: table, ID: id})
	e.bus.Publish(Event{Kind: EventEntityChanged, Table: table, ID: id})
}

// BeginEditing / EndEditing delegate to the realtime ingress edit buffer
// (spec §4.8) so a UI layer can mark an entity as being edited without
// importing internal/realtime directly.
func (e *Engine) BeginEditing(table entity.Table, id string) { e.ingress.BeginEditing(table, id) }
func (e *Engine) EndEditing(table entity.Table, id string)   { e.ingress.EndEditing(table, id) }
