package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrWorkspaceID  = "session.workspace_id"
	AttrTabCount     = "session.tab_count"
	AttrDraftCount   = "session.draft_count"
	AttrResourceKey  = "session.resource_key"
	AttrRecover      = "session.recover"
	AttrTabID        = "tab.id"
	AttrExecutionID  = "execution.id"
	AttrEventType    = "execution.event_type"
	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanSaveSession        = "session.save"
	SpanLoadSession        = "session.load"
	SpanSaveResourceState  = "session.resource.save"
	SpanGetResourceState   = "session.resource.get"
	SpanClearResourceState = "session.resource.clear"
	SpanRunRequest         = "execution.run_request"
	SpanRunCollection      = "execution.run_collection"
	SpanStopRun            = "execution.stop"
)

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
