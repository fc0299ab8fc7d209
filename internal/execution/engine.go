// Package execution routes events from the execution engine to the tab that
// owns them and issues run and stop commands on behalf of tabs.
package execution

import (
	"context"
	"encoding/json"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/pubsub"
)

// RunRequestParams asks the engine to send one request.
type RunRequestParams struct {
	ExecutionID  string
	CollectionID string
	ResourceID   string
	ProtocolID   string
	Input        json.RawMessage
}

// RunCollectionParams asks the engine to run a collection or folder.
type RunCollectionParams struct {
	RunID        string
	CollectionID string
	FolderID     string
	ProtocolID   string
	Name         string
}

// Engine is the external execution engine. Events for every run arrive on a
// single push stream keyed by execution id.
type Engine interface {
	pubsub.Subscriber[domain.ExecutionEvent]

	RunRequest(ctx context.Context, p RunRequestParams) error
	RunCollection(ctx context.Context, p RunCollectionParams) error
	// StopRun asks the engine to stop a run. The engine still reports the
	// run's terminal event on the stream.
	StopRun(ctx context.Context, runID string) error
}

// LogSink receives log-shaped events independently of tab routing.
type LogSink interface {
	Forward(ev domain.ExecutionEvent)
}
