package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/execution"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/pubsub"
)

// DefaultCollectionSize is how many requests a simulated collection run sends.
const DefaultCollectionSize = 3

var _ execution.Engine = (*Engine)(nil)

// Engine is a scripted execution.Engine.
type Engine struct {
	broker *pubsub.Broker[domain.ExecutionEvent]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time

	stepDelay      time.Duration
	doubleFire     bool
	failWith       error
	collectionSize int

	mu          sync.Mutex
	runs        map[string]context.CancelFunc
	requests    []execution.RunRequestParams
	collections []execution.RunCollectionParams
	stops       []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithStepDelay waits d between scripted events.
func WithStepDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.stepDelay = d
	}
}

// WithDoubleFire delivers every scripted event twice with the same event id.
func WithDoubleFire() Option {
	return func(e *Engine) {
		e.doubleFire = true
	}
}

// WithFailure makes RunRequest and RunCollection return err without
// emitting anything.
func WithFailure(err error) Option {
	return func(e *Engine) {
		e.failWith = err
	}
}

// WithCollectionSize sets how many requests a collection run sends.
func WithCollectionSize(n int) Option {
	return func(e *Engine) {
		e.collectionSize = n
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a simulated engine.
func NewEngine(opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		broker:         pubsub.NewBroker[domain.ExecutionEvent](),
		ctx:            ctx,
		cancel:         cancel,
		now:            time.Now,
		collectionSize: DefaultCollectionSize,
		runs:           make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe returns the engine event stream.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[domain.ExecutionEvent] {
	return e.broker.Subscribe(ctx)
}

// RunRequest plays the single request script under p.ExecutionID.
func (e *Engine) RunRequest(_ context.Context, p execution.RunRequestParams) error {
	e.mu.Lock()
	e.requests = append(e.requests, p)
	e.mu.Unlock()

	if e.failWith != nil {
		return e.failWith
	}

	script := []step{
		{domain.EventStarted, map[string]any{"resourceId": p.ResourceID}},
		{domain.EventRequestStarted, map[string]any{"resourceId": p.ResourceID, "protocol": p.ProtocolID}},
		{domain.EventLog, map[string]any{"message": fmt.Sprintf("sending %s", p.ResourceID)}},
		{domain.EventRequestCompleted, map[string]any{"resourceId": p.ResourceID, "status": 200}},
		{domain.EventCompleted, map[string]any{"status": 200, "body": json.RawMessage(`{"ok":true}`)}},
	}
	e.start(p.ExecutionID, script)
	return nil
}

// RunCollection plays the collection script under p.RunID.
func (e *Engine) RunCollection(_ context.Context, p execution.RunCollectionParams) error {
	e.mu.Lock()
	e.collections = append(e.collections, p)
	e.mu.Unlock()

	if e.failWith != nil {
		return e.failWith
	}

	total := e.collectionSize
	script := []step{{domain.EventStarted, map[string]any{"collectionId": p.CollectionID, "total": total}}}
	for i := 1; i <= total; i++ {
		resource := fmt.Sprintf("request-%d", i)
		script = append(script,
			step{domain.EventRequestStarted, map[string]any{"resourceId": resource}},
			step{domain.EventConsole, map[string]any{"message": fmt.Sprintf("running %s", resource)}},
			step{domain.EventRequestCompleted, map[string]any{"resourceId": resource, "status": 200}},
			step{domain.EventAssertion, map[string]any{"resourceId": resource, "passed": true}},
			step{domain.EventProgress, map[string]any{"completed": i, "total": total}},
		)
	}
	script = append(script, step{domain.EventCompleted, map[string]any{"total": total, "passed": total}})
	e.start(p.RunID, script)
	return nil
}

// StopRun cancels a run in flight; the run then reports a failed event.
// Stopping an unknown or finished run is a no-op.
func (e *Engine) StopRun(_ context.Context, runID string) error {
	e.mu.Lock()
	e.stops = append(e.stops, runID)
	cancel, ok := e.runs[runID]
	e.mu.Unlock()

	if !ok {
		log.Debug(log.CatExec, "stop ignored: run not active", "run_id", runID)
		return nil
	}
	cancel()
	return nil
}

// Emit delivers ev on the stream as if the engine produced it.
func (e *Engine) Emit(ctx context.Context, ev domain.ExecutionEvent) error {
	return e.broker.Deliver(ctx, pubsub.ExecutionReported, ev)
}

// Wait blocks until every scripted run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels every run and closes the stream.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.broker.Close()
}

// Requests returns the RunRequest calls received so far.
func (e *Engine) Requests() []execution.RunRequestParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.requests)
}

// Collections returns the RunCollection calls received so far.
func (e *Engine) Collections() []execution.RunCollectionParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.collections)
}

// Stops returns the run ids passed to StopRun.
func (e *Engine) Stops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.stops)
}

// Active reports whether runID is still playing.
func (e *Engine) Active(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[runID]
	return ok
}

type step struct {
	typ     domain.EventType
	payload map[string]any
}

func (e *Engine) start(runID string, script []step) {
	runCtx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	e.runs[runID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.runs, runID)
			e.mu.Unlock()
			cancel()
		}()
		e.play(runCtx, runID, script)
	}()
}

func (e *Engine) play(ctx context.Context, runID string, script []step) {
	for i, s := range script {
		if i > 0 && e.stepDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.stepDelay):
			}
		}
		if ctx.Err() != nil {
			e.emitStopped(runID, i)
			return
		}

		payload := map[string]any{"eventId": fmt.Sprintf("%s-%d", runID, i)}
		for k, v := range s.payload {
			payload[k] = v
		}
		ev := e.event(runID, s.typ, payload)

		deliveries := 1
		if e.doubleFire {
			deliveries = 2
		}
		for range deliveries {
			if err := e.broker.Deliver(e.ctx, pubsub.ExecutionReported, ev); err != nil {
				return
			}
		}
	}
}

// emitStopped reports the terminal event of a cancelled run. It is skipped
// when the whole engine is closing.
func (e *Engine) emitStopped(runID string, seq int) {
	if e.ctx.Err() != nil {
		return
	}
	ev := e.event(runID, domain.EventFailed, map[string]any{
		"eventId": fmt.Sprintf("%s-%d", runID, seq),
		"error":   "run stopped",
	})
	_ = e.broker.Deliver(e.ctx, pubsub.ExecutionReported, ev)
}

func (e *Engine) event(runID string, typ domain.EventType, payload map[string]any) domain.ExecutionEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.ErrorErr(log.CatExec, "encoding mock payload", err, "run_id", runID)
	}
	return domain.ExecutionEvent{
		Type:        typ,
		ExecutionID: runID,
		Timestamp:   e.now(),
		Payload:     raw,
	}
}
