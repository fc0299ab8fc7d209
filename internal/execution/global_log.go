package execution

import (
	"context"
	"sync"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/pubsub"
)

// DefaultGlobalLogSize is the number of entries GlobalLog keeps.
const DefaultGlobalLogSize = 500

// GlobalLog is the tab-independent log of forwarded events: a bounded
// in-memory history plus a live feed.
type GlobalLog struct {
	mu      sync.RWMutex
	entries []domain.ExecutionEvent
	size    int
	broker  *pubsub.Broker[domain.ExecutionEvent]
}

var _ LogSink = (*GlobalLog)(nil)

// NewGlobalLog keeps the most recent size entries.
func NewGlobalLog(size int) *GlobalLog {
	if size <= 0 {
		size = DefaultGlobalLogSize
	}
	return &GlobalLog{
		size:   size,
		broker: pubsub.NewBroker[domain.ExecutionEvent](),
	}
}

// Forward records ev and publishes it to subscribers.
func (g *GlobalLog) Forward(ev domain.ExecutionEvent) {
	g.mu.Lock()
	if len(g.entries) == g.size {
		copy(g.entries, g.entries[1:])
		g.entries = g.entries[:g.size-1]
	}
	g.entries = append(g.entries, ev)
	g.mu.Unlock()

	g.broker.Publish(pubsub.LogAppended, ev)
}

// Entries returns the retained entries, oldest first.
func (g *GlobalLog) Entries() []domain.ExecutionEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.ExecutionEvent, len(g.entries))
	copy(out, g.entries)
	return out
}

// Len returns the number of retained entries.
func (g *GlobalLog) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Clear drops the history.
func (g *GlobalLog) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = nil
}

// Subscribe returns a live feed of forwarded events.
func (g *GlobalLog) Subscribe(ctx context.Context) <-chan pubsub.Event[domain.ExecutionEvent] {
	return g.broker.Subscribe(ctx)
}

// Close ends every subscription.
func (g *GlobalLog) Close() {
	g.broker.Close()
}
