// Package realtime implements the change-stream ingress path of spec
// §4.8 (component C8): echo suppression, resolver invocation, and
// edit-in-progress deferral. It depends on no specific realtime client
// API — only on the ChannelProvider interface below — per spec §9's
// "the engine must not assume any specific real-time client API".
package realtime

import (
	"context"

	"github.com/prabhask5/goalsync/internal/entity"
)

// EventKind is the tag of one realtime change event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is one realtime change notification. Old is populated only for
// EventDelete (spec §4.8: "each carrying the new row (and old row for
// delete)").
type Event struct {
	Kind EventKind
	New  *entity.Row
	Old  *entity.Row
}

// ChannelState is the connection lifecycle of a realtime subscription
// (spec §4.8): disconnected -> connecting -> connected -> {error ->
// reconnecting (backoff, max 5 attempts) -> connected}.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
	StateReconnecting ChannelState = "reconnecting"
	StateUnhealthy    ChannelState = "unhealthy"
)

// Handler receives realtime events and channel state transitions.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
	HandleState(state ChannelState)
}

// ChannelProvider decouples C8 from any specific realtime client
// (websocket, SSE, long-poll, ...). Subscribe opens one server-push
// channel per user filtered by table and user_id, and returns an
// Unsubscribe func.
type ChannelProvider interface {
	Subscribe(ctx context.Context, table entity.Table, userID string, h Handler) (unsubscribe func(), err error)
}
