// Package pubsub fans typed events out to any number of subscribers.
//
// Courier runs three feeds on it: tab store changes, the execution engine's
// event stream and the global execution log. Changes and log entries are
// best-effort (Publish drops on a full subscriber); the engine stream uses
// Deliver so no execution event is lost.
package pubsub

import (
	"context"
	"time"
)

// EventType names the feed an event came from.
type EventType string

const (
	// TabsChanged is published by the tab store after every mutation.
	TabsChanged EventType = "tabs.changed"
	// ExecutionReported carries one event of the execution engine stream.
	ExecutionReported EventType = "execution.reported"
	// LogAppended is published for every global log or debug log entry.
	LogAppended EventType = "log.appended"
)

// Event is one published payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber is implemented by every feed.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
