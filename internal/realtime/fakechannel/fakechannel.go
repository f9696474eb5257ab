// Package fakechannel provides an in-memory realtime.ChannelProvider for
// deterministic ingress tests, grounded on the teacher's
// internal/storage/memory in-process fake.
package fakechannel

import (
	"context"
	"sync"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/realtime"
)

type subKey struct {
	table entity.Table
	user  string
}

// Provider is a test double that lets a test call Emit to simulate a
// remote change arriving on a subscribed channel.
type Provider struct {
	mu   sync.Mutex
	subs map[subKey][]realtime.Handler
}

var _ realtime.ChannelProvider = (*Provider)(nil)

func New() *Provider {
	return &Provider{subs: make(map[subKey][]realtime.Handler)}
}

func (p *Provider) Subscribe(_ context.Context, table entity.Table, userID string, h realtime.Handler) (func(), error) {
	k := subKey{table, userID}
	p.mu.Lock()
	p.subs[k] = append(p.subs[k], h)
	idx := len(p.subs[k]) - 1
	p.mu.Unlock()

	h.HandleState(realtime.StateConnected)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		handlers := p.subs[k]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}, nil
}

// Emit delivers ev to every handler subscribed to table/userID.
func (p *Provider) Emit(table entity.Table, userID string, ev realtime.Event) {
	p.mu.Lock()
	handlers := append([]realtime.Handler(nil), p.subs[subKey{table, userID}]...)
	p.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h.HandleEvent(context.Background(), ev)
		}
	}
}
