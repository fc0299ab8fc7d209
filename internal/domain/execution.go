package domain

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// ExecutionStatus is the local state of one execution.
type ExecutionStatus string

const (
	ExecutionIdle     ExecutionStatus = "idle"
	ExecutionRunning  ExecutionStatus = "running"
	ExecutionComplete ExecutionStatus = "complete"
	ExecutionError    ExecutionStatus = "error"
)

// String returns the string representation of the status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal returns true once the engine has reported the end of the run.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionComplete || s == ExecutionError
}

// EventType tags an execution event.
type EventType string

// Event types emitted by the execution engine.
const (
	// EventStarted is the lifecycle-start event of a run.
	EventStarted EventType = "started"
	// EventCompleted ends a run successfully; its payload is the result.
	EventCompleted EventType = "completed"
	// EventFailed ends a run with an error.
	EventFailed EventType = "failed"

	EventRequestStarted   EventType = "request-started"
	EventRequestCompleted EventType = "request-completed"
	EventAssertion        EventType = "assertion"
	EventProgress         EventType = "progress"

	// EventLog and EventConsole are log-shaped events. They are mirrored to
	// the global log sink whether or not a tab owns them.
	EventLog     EventType = "log"
	EventConsole EventType = "console"
)

// IsLogShaped reports whether events of this type belong in the global log.
func (t EventType) IsLogShaped() bool {
	return t == EventLog || t == EventConsole
}

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed
}

// ExecutionEvent is one entry of the engine's push stream.
type ExecutionEvent struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"executionId"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// eventEnvelope holds the payload fields courier reads. Everything else in
// the payload is opaque.
type eventEnvelope struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e ExecutionEvent) envelope() eventEnvelope {
	var env eventEnvelope
	if len(e.Payload) == 0 {
		return env
	}
	// Non-object payloads carry no id.
	_ = json.Unmarshal(e.Payload, &env)
	return env
}

// EventID returns the application-level event id embedded in the payload, or
// "" when the producer did not set one.
func (e ExecutionEvent) EventID() string {
	return e.envelope().EventID
}

// ErrorMessage extracts a human readable failure reason from a failed event.
func (e ExecutionEvent) ErrorMessage() string {
	env := e.envelope()
	switch {
	case env.Error != "":
		return env.Error
	case env.Message != "":
		return env.Message
	}
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil && s != "" {
		return s
	}
	if raw := strings.TrimSpace(string(e.Payload)); raw != "" {
		return raw
	}
	return "execution failed"
}

// ExecutionData is the per-tab execution state: the correlation id, status
// and the append-only event log.
type ExecutionData struct {
	ExecutionID string
	Status      ExecutionStatus
	StartTime   time.Time
	Events      []ExecutionEvent
	Result      json.RawMessage
	Error       string

	seen map[string]struct{}
}

// NewExecutionData returns idle execution state for the given execution id.
func NewExecutionData(executionID string) *ExecutionData {
	return &ExecutionData{
		ExecutionID: executionID,
		Status:      ExecutionIdle,
	}
}

// Append records an event and advances the state machine.
//
// It returns false without recording anything when the payload carries an
// event id that was already appended. Events without an id are always
// appended. Events that arrive after a terminal event are still logged; the
// terminal status is kept.
func (e *ExecutionData) Append(ev ExecutionEvent) bool {
	if id := ev.EventID(); id != "" {
		if e.seen == nil {
			e.seen = make(map[string]struct{})
		}
		if _, dup := e.seen[id]; dup {
			return false
		}
		e.seen[id] = struct{}{}
	}

	e.Events = append(e.Events, ev)

	switch {
	case ev.Type == EventStarted && e.Status == ExecutionIdle:
		e.Status = ExecutionRunning
		e.StartTime = ev.Timestamp
		if e.StartTime.IsZero() {
			e.StartTime = time.Now()
		}
	case ev.Type == EventCompleted && !e.Status.IsTerminal():
		e.Status = ExecutionComplete
		if len(ev.Payload) > 0 {
			e.Result = slices.Clone(ev.Payload)
		}
	case ev.Type == EventFailed && !e.Status.IsTerminal():
		e.Status = ExecutionError
		e.Error = ev.ErrorMessage()
	}
	return true
}

// Clone returns a deep copy of the execution state.
func (e *ExecutionData) Clone() *ExecutionData {
	if e == nil {
		return nil
	}
	out := *e
	out.Events = slices.Clone(e.Events)
	out.Result = slices.Clone(e.Result)
	if e.seen != nil {
		out.seen = make(map[string]struct{}, len(e.seen))
		for k := range e.seen {
			out.seen[k] = struct{}{}
		}
	}
	return &out
}
