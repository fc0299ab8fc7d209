package execution_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/execution"
	execmock "github.com/zjrosen/courier/internal/execution/mock"
	"github.com/zjrosen/courier/internal/pubsub"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/tracing"
)

// mockEngine is an expectation-based engine for command tests.
type mockEngine struct {
	mock.Mock
	broker *pubsub.Broker[domain.ExecutionEvent]
}

func newMockEngine() *mockEngine {
	return &mockEngine{broker: pubsub.NewBroker[domain.ExecutionEvent]()}
}

func (m *mockEngine) Subscribe(ctx context.Context) <-chan pubsub.Event[domain.ExecutionEvent] {
	return m.broker.Subscribe(ctx)
}

func (m *mockEngine) RunRequest(ctx context.Context, p execution.RunRequestParams) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockEngine) RunCollection(ctx context.Context, p execution.RunCollectionParams) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockEngine) StopRun(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

type recordingSink struct {
	events []domain.ExecutionEvent
}

func (s *recordingSink) Forward(ev domain.ExecutionEvent) {
	s.events = append(s.events, ev)
}

func event(typ domain.EventType, executionID, eventID string) domain.ExecutionEvent {
	var payload json.RawMessage
	if eventID != "" {
		payload, _ = json.Marshal(map[string]string{"eventId": eventID})
	}
	return domain.ExecutionEvent{Type: typ, ExecutionID: executionID, Timestamp: time.Now(), Payload: payload}
}

func newStore(t *testing.T) *tabs.Store {
	t.Helper()
	s := tabs.New()
	t.Cleanup(s.Close)
	return s
}

func tabState(t *testing.T, s *tabs.Store, id string) *domain.ExecutionData {
	t.Helper()
	tab, ok := s.Tab(id)
	require.True(t, ok)
	return tab.Execution
}

func TestRouter_DispatchAppendsToOwner(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())

	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventStarted, execID, "a")))
	require.NoError(t, r.Dispatch(event(domain.EventCompleted, execID, "b")))

	state := tabState(t, store, tab.ID)
	require.Equal(t, domain.ExecutionComplete, state.Status)
	require.Len(t, state.Events, 2)
	require.Equal(t, uint64(2), r.Stats().Delivered)
}

func TestRouter_InterleavedExecutionsStaySeparate(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())

	a := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	b := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r2"})
	ea, eb := a.Execution.ExecutionID, b.Execution.ExecutionID

	for _, ev := range []domain.ExecutionEvent{
		event(domain.EventStarted, ea, "a1"),
		event(domain.EventStarted, eb, "b1"),
		event(domain.EventLog, eb, "b2"),
		event(domain.EventFailed, ea, "a2"),
		event(domain.EventCompleted, eb, "b3"),
	} {
		require.NoError(t, r.Dispatch(ev))
	}

	sa, sb := tabState(t, store, a.ID), tabState(t, store, b.ID)
	require.Equal(t, domain.ExecutionError, sa.Status)
	require.Equal(t, domain.ExecutionComplete, sb.Status)
	require.Len(t, sa.Events, 2)
	require.Len(t, sb.Events, 3)
	for _, ev := range sa.Events {
		require.Equal(t, ea, ev.ExecutionID)
	}
}

func TestRouter_DuplicateDropped(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventStarted, execID, "e1")))
	err := r.Dispatch(event(domain.EventStarted, execID, "e1"))
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)

	var dup *domain.DuplicateEventError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "e1", dup.EventID)

	require.Len(t, tabState(t, store, tab.ID).Events, 1)
	require.Equal(t, uint64(1), r.Stats().Duplicates)
}

func TestRouter_EventsWithoutIDAreNeverDeduplicated(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventLog, execID, "")))
	require.NoError(t, r.Dispatch(event(domain.EventLog, execID, "")))
	require.Len(t, tabState(t, store, tab.ID).Events, 2)
}

func TestRouter_StaleEventDropped(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	r := execution.NewRouter(store, newMockEngine(), execution.WithLogSink(sink))

	err := r.Dispatch(event(domain.EventStarted, "unknown", "e1"))
	require.ErrorIs(t, err, domain.ErrStale)
	require.Equal(t, uint64(1), r.Stats().Stale)
	require.Empty(t, sink.events)
}

func TestRouter_LogShapedForwardedEvenWhenStale(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	r := execution.NewRouter(store, newMockEngine(), execution.WithLogSink(sink))

	err := r.Dispatch(event(domain.EventConsole, "unknown", "e1"))
	require.ErrorIs(t, err, domain.ErrStale)
	require.Len(t, sink.events, 1)
	require.Equal(t, uint64(1), r.Stats().Forwarded)
}

func TestRouter_ClosedTabMakesEventsStale(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventStarted, execID, "e1")))
	require.NoError(t, store.CloseTab(tab.ID))

	require.ErrorIs(t, r.Dispatch(event(domain.EventCompleted, execID, "e2")), domain.ErrStale)
}

func TestRouter_EventsAfterTerminalStillLogged(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventStarted, execID, "e1")))
	require.NoError(t, r.Dispatch(event(domain.EventCompleted, execID, "e2")))
	require.NoError(t, r.Dispatch(event(domain.EventLog, execID, "e3")))
	require.NoError(t, r.Dispatch(event(domain.EventFailed, execID, "e4")))

	state := tabState(t, store, tab.ID)
	require.Equal(t, domain.ExecutionComplete, state.Status)
	require.Len(t, state.Events, 4)
}

func TestRouter_ClearMakesOldRunStale(t *testing.T) {
	store := newStore(t)
	r := execution.NewRouter(store, newMockEngine())
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	oldID := tab.Execution.ExecutionID

	require.NoError(t, r.Dispatch(event(domain.EventStarted, oldID, "e1")))

	newID, err := r.Clear(tab.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	require.ErrorIs(t, r.Dispatch(event(domain.EventCompleted, oldID, "e2")), domain.ErrStale)
	state := tabState(t, store, tab.ID)
	require.Equal(t, domain.ExecutionIdle, state.Status)
	require.Empty(t, state.Events)
}

func TestRouter_StopLeavesStatusAlone(t *testing.T) {
	store := newStore(t)
	engine := newMockEngine()
	r := execution.NewRouter(store, engine)
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	execID := tab.Execution.ExecutionID
	require.NoError(t, r.Dispatch(event(domain.EventStarted, execID, "e1")))

	engine.On("StopRun", mock.Anything, execID).Return(nil).Once()

	require.NoError(t, r.Stop(context.Background(), tab.ID))
	require.Equal(t, domain.ExecutionRunning, tabState(t, store, tab.ID).Status)
	engine.AssertExpectations(t)
}

func TestRouter_StopUsesRunIDForRunnerTabs(t *testing.T) {
	store := newStore(t)
	engine := newMockEngine()
	r := execution.NewRouter(store, engine)
	tab := store.OpenRunnerExecution(tabs.RunnerParams{CollectionID: "c1"})

	engine.On("StopRun", mock.Anything, tab.RunID()).Return(nil).Once()

	require.NoError(t, r.Stop(context.Background(), tab.ID))
	engine.AssertExpectations(t)
}

func TestRouter_StopErrors(t *testing.T) {
	store := newStore(t)
	engine := newMockEngine()
	r := execution.NewRouter(store, engine)

	require.ErrorIs(t, r.Stop(context.Background(), "missing"), domain.ErrNotFound)

	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	boom := errors.New("engine gone")
	engine.On("StopRun", mock.Anything, mock.Anything).Return(boom)
	require.ErrorIs(t, r.Stop(context.Background(), tab.ID), boom)
}

func TestRouter_RunRequestFailureMarksTab(t *testing.T) {
	store := newStore(t)
	engine := newMockEngine()
	r := execution.NewRouter(store, engine)
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1", ProtocolID: "http"})

	boom := errors.New("engine offline")
	engine.On("RunRequest", mock.Anything, mock.MatchedBy(func(p execution.RunRequestParams) bool {
		return p.ResourceID == "r1" && p.ProtocolID == "http"
	})).Return(boom)

	execID, err := r.RunRequest(context.Background(), tab.ID, nil)
	require.ErrorIs(t, err, boom)

	state := tabState(t, store, tab.ID)
	require.Equal(t, execID, state.ExecutionID)
	require.Equal(t, domain.ExecutionError, state.Status)
	require.Equal(t, "engine offline", state.Error)
}

func TestRouter_RunRequestMissingTab(t *testing.T) {
	r := execution.NewRouter(newStore(t), newMockEngine())
	_, err := r.RunRequest(context.Background(), "missing", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRouter_RerunGetsFreshExecutionID(t *testing.T) {
	store := newStore(t)
	engine := newMockEngine()
	r := execution.NewRouter(store, engine)
	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	firstID := tab.Execution.ExecutionID

	engine.On("RunRequest", mock.Anything, mock.Anything).Return(nil)

	got, err := r.RunRequest(context.Background(), tab.ID, nil)
	require.NoError(t, err)
	require.Equal(t, firstID, got, "an idle tab runs under its current id")

	require.NoError(t, r.Dispatch(event(domain.EventStarted, firstID, "e1")))

	second, err := r.RunRequest(context.Background(), tab.ID, nil)
	require.NoError(t, err)
	require.NotEqual(t, firstID, second)
	require.ErrorIs(t, r.Dispatch(event(domain.EventCompleted, firstID, "e2")), domain.ErrStale)
}

func TestRouter_StartTwice(t *testing.T) {
	engine := execmock.NewEngine()
	defer engine.Close()
	r := execution.NewRouter(newStore(t), engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	require.ErrorIs(t, r.Start(ctx), execution.ErrAlreadyStarted)
}

func TestRouter_EndToEndRequests(t *testing.T) {
	store := newStore(t)
	engine := execmock.NewEngine(execmock.WithDoubleFire())
	defer engine.Close()
	global := execution.NewGlobalLog(10)
	defer global.Close()
	r := execution.NewRouter(store, engine, execution.WithLogSink(global))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	a := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	b := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r2"})

	_, err := r.RunRequest(ctx, a.ID, nil)
	require.NoError(t, err)
	_, err = r.RunRequest(ctx, b.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tabState(t, store, a.ID).Status == domain.ExecutionComplete &&
			tabState(t, store, b.ID).Status == domain.ExecutionComplete
	}, 2*time.Second, 5*time.Millisecond)

	// Every scripted event was fired twice; only one copy is kept.
	require.Len(t, tabState(t, store, a.ID).Events, 5)
	require.Len(t, tabState(t, store, b.ID).Events, 5)
	require.Eventually(t, func() bool {
		return r.Stats().Duplicates == 10 && global.Len() == 4
	}, 2*time.Second, 5*time.Millisecond, "log events are forwarded on every delivery")
}

func TestRouter_EndToEndCollection(t *testing.T) {
	store := newStore(t)
	engine := execmock.NewEngine(execmock.WithCollectionSize(2))
	defer engine.Close()
	r := execution.NewRouter(store, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	tab, err := r.RunCollection(ctx, tabs.RunnerParams{CollectionID: "c1", Name: "smoke"})
	require.NoError(t, err)
	require.Equal(t, domain.TabTypeRunner, tab.Type)

	require.Eventually(t, func() bool {
		return tabState(t, store, tab.ID).Status == domain.ExecutionComplete
	}, 2*time.Second, 5*time.Millisecond)

	calls := engine.Collections()
	require.Len(t, calls, 1)
	require.Equal(t, tab.RunID(), calls[0].RunID)
}

func TestRouter_EndToEndStop(t *testing.T) {
	store := newStore(t)
	engine := execmock.NewEngine(execmock.WithStepDelay(time.Hour))
	defer engine.Close()
	r := execution.NewRouter(store, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	_, err := r.RunRequest(ctx, tab.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tabState(t, store, tab.ID).Status == domain.ExecutionRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(ctx, tab.ID))

	require.Eventually(t, func() bool {
		return tabState(t, store, tab.ID).Status == domain.ExecutionError
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "run stopped", tabState(t, store, tab.ID).Error)
}

func TestRouter_DoneAfterStreamCloses(t *testing.T) {
	engine := execmock.NewEngine()
	r := execution.NewRouter(newStore(t), engine)
	require.NoError(t, r.Start(context.Background()))

	engine.Close()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("router loop did not exit")
	}
}

func TestRouter_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store := newStore(t)
	engine := newMockEngine()
	engine.On("RunRequest", mock.Anything, mock.Anything).Return(nil)
	engine.On("StopRun", mock.Anything, mock.Anything).Return(nil)
	r := execution.NewRouter(store, engine, execution.WithTracer(tp.Tracer("test")))

	tab := store.OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	_, err := r.RunRequest(context.Background(), tab.ID, nil)
	require.NoError(t, err)
	require.NoError(t, r.Stop(context.Background(), tab.ID))

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, tracing.SpanRunRequest, ended[0].Name())
	require.Equal(t, tracing.SpanStopRun, ended[1].Name())
}
