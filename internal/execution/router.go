package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/tracing"
)

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("execution router already started")

// Stats counts routing outcomes.
type Stats struct {
	Delivered  uint64 // appended to a tab log
	Duplicates uint64 // dropped: event id already seen for the tab
	Stale      uint64 // dropped: no open tab owns the execution id
	Forwarded  uint64 // sent to the log sink
}

// Router demultiplexes the engine's event stream onto tabs.
type Router struct {
	tabs   *tabs.Store
	engine Engine
	sink   LogSink
	tracer trace.Tracer
	now    func() time.Time

	started atomic.Bool
	done    chan struct{}

	delivered  atomic.Uint64
	duplicates atomic.Uint64
	stale      atomic.Uint64
	forwarded  atomic.Uint64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogSink sets where log-shaped events are forwarded.
func WithLogSink(sink LogSink) RouterOption {
	return func(r *Router) {
		r.sink = sink
	}
}

// WithTracer sets the tracer used for engine command spans.
func WithTracer(tracer trace.Tracer) RouterOption {
	return func(r *Router) {
		r.tracer = tracer
	}
}

// NewRouter creates a router for tabStore fed by engine.
func NewRouter(tabStore *tabs.Store, engine Engine, opts ...RouterOption) *Router {
	r := &Router{
		tabs:   tabStore,
		engine: engine,
		tracer: tracing.NewNoop().Tracer(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the engine stream and dispatches events until ctx is
// cancelled or the stream closes. It may be called once.
func (r *Router) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	events := r.engine.Subscribe(ctx)
	go func() {
		defer close(r.done)
		for ev := range events {
			_ = r.Dispatch(ev.Payload)
		}
		log.Debug(log.CatExec, "event stream closed")
	}()
	return nil
}

// Done is closed when the dispatch loop started by Start exits.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Dispatch routes one event. Log-shaped events are forwarded to the sink
// whether or not a tab owns them. The returned error is diagnostic only:
// StaleEventError when no tab owns the execution id, DuplicateEventError
// when the event id was already seen.
func (r *Router) Dispatch(ev domain.ExecutionEvent) error {
	if ev.Type.IsLogShaped() && r.sink != nil {
		r.sink.Forward(ev)
		r.forwarded.Add(1)
	}

	duplicate := false
	tabID, ok := r.tabs.ApplyExecution(ev.ExecutionID, func(tab *domain.Tab) bool {
		appended := tab.Execution.Append(ev)
		duplicate = !appended
		return appended
	})

	switch {
	case !ok:
		r.stale.Add(1)
		log.Debug(log.CatExec, "dropped stale event", "execution_id", ev.ExecutionID, "type", ev.Type)
		return &domain.StaleEventError{ExecutionID: ev.ExecutionID, Type: ev.Type}
	case duplicate:
		r.duplicates.Add(1)
		log.Debug(log.CatExec, "dropped duplicate event", "execution_id", ev.ExecutionID, "event_id", ev.EventID())
		return &domain.DuplicateEventError{ExecutionID: ev.ExecutionID, EventID: ev.EventID()}
	}

	r.delivered.Add(1)
	if ev.Type.IsTerminal() {
		log.Info(log.CatExec, "execution finished", "execution_id", ev.ExecutionID, "tab_id", tabID, "type", ev.Type)
	}
	return nil
}

// Clear resets the tab to idle under a new execution id and returns it.
// Late events of the previous run become stale.
func (r *Router) Clear(tabID string) (string, error) {
	return r.tabs.ResetExecution(tabID)
}

// Stop asks the engine to stop the tab's current run. The tab status is left
// alone: it changes only when the engine reports the terminal event.
func (r *Router) Stop(ctx context.Context, tabID string) error {
	tab, ok := r.tabs.Tab(tabID)
	if !ok {
		return &domain.TabNotFoundError{TabID: tabID}
	}
	runID := tab.RunID()
	if runID == "" && tab.Execution != nil {
		runID = tab.Execution.ExecutionID
	}

	ctx, span := r.tracer.Start(ctx, tracing.SpanStopRun, trace.WithAttributes(
		attribute.String(tracing.AttrTabID, tabID),
		attribute.String(tracing.AttrExecutionID, runID),
	))
	defer span.End()

	if err := r.engine.StopRun(ctx, runID); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("stopping run %s: %w", runID, err)
	}
	log.Debug(log.CatExec, "stop requested", "tab_id", tabID, "execution_id", runID)
	return nil
}

// RunRequest sends the request shown in tabID. A tab that already ran gets a
// fresh execution id first. Returns the execution id of the new run.
func (r *Router) RunRequest(ctx context.Context, tabID string, input json.RawMessage) (string, error) {
	tab, ok := r.tabs.Tab(tabID)
	if !ok {
		return "", &domain.TabNotFoundError{TabID: tabID}
	}

	var executionID string
	if tab.Execution != nil {
		executionID = tab.Execution.ExecutionID
	}
	if executionID == "" || tab.Execution.Status != domain.ExecutionIdle || len(tab.Execution.Events) > 0 {
		var err error
		if executionID, err = r.Clear(tabID); err != nil {
			return "", err
		}
	}

	ctx, span := r.tracer.Start(ctx, tracing.SpanRunRequest, trace.WithAttributes(
		attribute.String(tracing.AttrTabID, tabID),
		attribute.String(tracing.AttrExecutionID, executionID),
	))
	defer span.End()

	err := r.engine.RunRequest(ctx, RunRequestParams{
		ExecutionID:  executionID,
		CollectionID: tab.CollectionID,
		ResourceID:   tab.ResourceID,
		ProtocolID:   tab.ProtocolID,
		Input:        input,
	})
	if err != nil {
		tracing.RecordError(span, err)
		r.failLocally(executionID, err)
		return executionID, fmt.Errorf("running request %s: %w", tab.ResourceID, err)
	}
	return executionID, nil
}

// RunCollection opens a runner tab and starts the run under its run id.
func (r *Router) RunCollection(ctx context.Context, p tabs.RunnerParams) (*domain.Tab, error) {
	tab := r.tabs.OpenRunnerExecution(p)
	runID := tab.RunID()

	ctx, span := r.tracer.Start(ctx, tracing.SpanRunCollection, trace.WithAttributes(
		attribute.String(tracing.AttrTabID, tab.ID),
		attribute.String(tracing.AttrExecutionID, runID),
	))
	defer span.End()

	err := r.engine.RunCollection(ctx, RunCollectionParams{
		RunID:        runID,
		CollectionID: p.CollectionID,
		FolderID:     p.FolderID,
		ProtocolID:   p.ProtocolID,
		Name:         p.Name,
	})
	if err != nil {
		tracing.RecordError(span, err)
		r.failLocally(runID, err)
		return tab, fmt.Errorf("running collection %s: %w", p.CollectionID, err)
	}
	return tab, nil
}

// Stats returns the routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Delivered:  r.delivered.Load(),
		Duplicates: r.duplicates.Load(),
		Stale:      r.stale.Load(),
		Forwarded:  r.forwarded.Load(),
	}
}

// failLocally records a failed event for a run the engine refused, so the
// tab shows the error instead of staying idle.
func (r *Router) failLocally(executionID string, cause error) {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_ = r.Dispatch(domain.ExecutionEvent{
		Type:        domain.EventFailed,
		ExecutionID: executionID,
		Timestamp:   r.now(),
		Payload:     payload,
	})
}
