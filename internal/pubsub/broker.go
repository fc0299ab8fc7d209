package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the per-subscriber channel capacity of NewBroker.
const DefaultBufferSize = 64

// Broker delivers events to every live subscription. Subscriptions end when
// their context is cancelled or the broker is closed; either way the channel
// is closed exactly once.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	closed chan struct{}
	buffer int

	dropped atomic.Uint64
	now     func() time.Time
}

// NewBroker creates a broker with DefaultBufferSize.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](DefaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriber channels hold size
// events.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:   make(map[chan Event[T]]struct{}),
		closed: make(chan struct{}),
		buffer: size,
		now:    time.Now,
	}
}

// Subscribe returns a channel that receives every event published from now
// on. Subscribing to a closed broker returns a closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.buffer)
	if b.isClosed() {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}

	go b.unsubscribeOnDone(ctx, ch)
	return ch
}

func (b *Broker[T]) unsubscribeOnDone(ctx context.Context, ch chan Event[T]) {
	select {
	case <-ctx.Done():
	case <-b.closed:
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish offers the event to every subscriber without waiting. A
// subscriber whose buffer is full misses it; see Dropped.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event[T]{Type: eventType, Payload: payload, Timestamp: b.now()}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Deliver hands the event to every subscriber, waiting for buffer space.
// It returns ctx.Err() when ctx ends first; subscribers already served keep
// the event. Delivering on a closed broker is a no-op.
func (b *Broker[T]) Deliver(ctx context.Context, eventType EventType, payload T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event[T]{Type: eventType, Payload: payload, Timestamp: b.now()}
	for ch := range b.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close ends every subscription. It is safe to call more than once.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		return
	}
	close(b.closed)
	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events Publish could not hand to a full
// subscriber.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker[T]) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
