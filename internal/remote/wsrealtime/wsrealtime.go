// Package wsrealtime implements realtime.ChannelProvider over a
// gorilla/websocket connection to the remote store's change-feed
// endpoint, grounded on josedab-chronicle's streaming hub.
package wsrealtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prabhask5/goalsync/internal/applog"
	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/realtime"
	"github.com/prabhask5/goalsync/internal/remote"
)

const maxReconnectAttempts = 5

// wireEvent is the JSON envelope the remote change-feed endpoint sends,
// one per INSERT/UPDATE/DELETE (spec §4.8).
type wireEvent struct {
	Kind string      `json:"kind"`
	New  *entity.Row `json:"new,omitempty"`
	Old  *entity.Row `json:"old,omitempty"`
}

// Provider dials the remote store's websocket change-feed endpoint.
type Provider struct {
	baseURL   string
	secretKey []byte
	dialer    *websocket.Dialer
	log       applog.Logger
}

var _ realtime.ChannelProvider = (*Provider)(nil)

// New creates a Provider. baseURL is the ws(s):// endpoint root; every
// Subscribe call appends ?table=...&token=....
func New(baseURL string, secretKey []byte) *Provider {
	return &Provider{baseURL: baseURL, secretKey: secretKey, dialer: websocket.DefaultDialer, log: applog.For("wsrealtime")}
}

func (p *Provider) Subscribe(ctx context.Context, table entity.Table, userID string, h realtime.Handler) (func(), error) {
	token, err := remote.SignChannelToken(userID, p.secretKey, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("wsrealtime: sign channel token: %w", err)
	}

	u := fmt.Sprintf("%s?table=%s&token=%s", p.baseURL, url.QueryEscape(string(table)), url.QueryEscape(token))

	ctx, cancel := context.WithCancel(ctx)
	ch := &channel{provider: p, url: u, handler: h, table: table}
	go ch.run(ctx)

	return cancel, nil
}

type channel struct {
	provider *Provider
	url      string
	handler  realtime.Handler
	table    entity.Table

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *channel) run(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.handler.HandleState(realtime.StateConnecting)
		conn, _, err := c.provider.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempts++
			c.provider.log.Warn(ctx, "wsrealtime: dial failed", "table", c.table, "attempt", attempts, "err", err)
			if attempts >= maxReconnectAttempts {
				c.handler.HandleState(realtime.StateUnhealthy)
				return
			}
			c.handler.HandleState(realtime.StateReconnecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempts)):
			}
			continue
		}

		attempts = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.handler.HandleState(realtime.StateConnected)

		c.readLoop(ctx, conn)

		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.provider.log.Warn(ctx, "wsrealtime: read failed, reconnecting", "table", c.table, "err", err)
			return
		}
		var we wireEvent
		if err := json.Unmarshal(msg, &we); err != nil {
			c.provider.log.Error(ctx, "wsrealtime: malformed event", "table", c.table, "err", err)
			continue
		}
		if we.New != nil {
			we.New.Table = c.table
		}
		if we.Old != nil {
			we.Old.Table = c.table
		}
		c.handler.HandleEvent(ctx, realtime.Event{
			Kind: realtime.EventKind(we.Kind),
			New:  we.New,
			Old:  we.Old,
		})
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
