package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/execution"
	"github.com/zjrosen/courier/internal/pubsub"
)

// collect reads events until a terminal one arrives for runID.
func collect(t *testing.T, ch <-chan pubsub.Event[domain.ExecutionEvent], runID string) []domain.ExecutionEvent {
	t.Helper()
	var out []domain.ExecutionEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed early")
			if ev.Payload.ExecutionID != runID {
				continue
			}
			out = append(out, ev.Payload)
			if ev.Payload.Type.IsTerminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timeout; got %d events", len(out))
		}
	}
}

func types(events []domain.ExecutionEvent) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestEngine_RunRequestScript(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)

	require.NoError(t, e.RunRequest(ctx, execution.RunRequestParams{ExecutionID: "x1", ResourceID: "r1"}))

	events := collect(t, ch, "x1")
	require.Equal(t, []domain.EventType{
		domain.EventStarted,
		domain.EventRequestStarted,
		domain.EventLog,
		domain.EventRequestCompleted,
		domain.EventCompleted,
	}, types(events))
	require.Equal(t, "x1-0", events[0].EventID())
	require.Len(t, e.Requests(), 1)
}

func TestEngine_RunCollectionScript(t *testing.T) {
	e := NewEngine(WithCollectionSize(2))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)

	require.NoError(t, e.RunCollection(ctx, execution.RunCollectionParams{RunID: "run-1", CollectionID: "c1"}))

	events := collect(t, ch, "run-1")
	// started + 5 per request + completed
	require.Len(t, events, 1+2*5+1)
	require.Equal(t, domain.EventProgress, events[5].Type)
}

func TestEngine_DoubleFireRepeatsEventIDs(t *testing.T) {
	e := NewEngine(WithDoubleFire())
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)

	require.NoError(t, e.RunRequest(ctx, execution.RunRequestParams{ExecutionID: "x1"}))

	events := collect(t, ch, "x1")
	require.Equal(t, events[0].EventID(), events[1].EventID())
}

func TestEngine_StopEmitsFailed(t *testing.T) {
	e := NewEngine(WithStepDelay(time.Hour))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)

	require.NoError(t, e.RunRequest(ctx, execution.RunRequestParams{ExecutionID: "x1"}))
	require.Eventually(t, func() bool { return e.Active("x1") }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.StopRun(ctx, "x1"))

	events := collect(t, ch, "x1")
	last := events[len(events)-1]
	require.Equal(t, domain.EventFailed, last.Type)
	require.Equal(t, "run stopped", last.ErrorMessage())
	require.Equal(t, []string{"x1"}, e.Stops())
}

func TestEngine_StopUnknownRun(t *testing.T) {
	e := NewEngine()
	defer e.Close()
	require.NoError(t, e.StopRun(context.Background(), "nope"))
}

func TestEngine_Failure(t *testing.T) {
	boom := errors.New("engine offline")
	e := NewEngine(WithFailure(boom))
	defer e.Close()

	err := e.RunRequest(context.Background(), execution.RunRequestParams{ExecutionID: "x1"})
	require.ErrorIs(t, err, boom)
	require.False(t, e.Active("x1"))
}
