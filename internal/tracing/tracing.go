// Package tracing wraps OpenTelemetry span creation for runs, stages, model
// calls and tool calls. Spans go to the global tracer provider, which is a
// no-op unless the host process installs one.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans produced by this module.
const InstrumentationName = "github.com/hupe1980/codepipe"

// Attribute keys.
const (
	AttrRunID     = attribute.Key("codepipe.run_id")
	AttrSessionID = attribute.Key("codepipe.session_id")
	AttrUserID    = attribute.Key("codepipe.user_id")
	AttrWorker    = attribute.Key("codepipe.worker")
	AttrKind      = attribute.Key("codepipe.worker.kind")
	AttrTool      = attribute.Key("codepipe.tool")
	AttrModel     = attribute.Key("codepipe.model")
	AttrOutcome   = attribute.Key("codepipe.outcome")
)

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer { return otel.Tracer(InstrumentationName) }

// StartRun opens the root span of a run.
func StartRun(ctx context.Context, runID, userID, sessionID, root string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "codepipe.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrUserID.String(userID),
			AttrSessionID.String(sessionID),
			AttrWorker.String(root),
		),
	)
}

// StartStage opens a span around one worker execution.
func StartStage(ctx context.Context, worker, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "codepipe.stage "+worker,
		trace.WithAttributes(AttrWorker.String(worker), AttrKind.String(kind)),
	)
}

// StartModelCall opens a span around one model turn.
func StartModelCall(ctx context.Context, worker, modelRef string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "codepipe.model",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrWorker.String(worker), AttrModel.String(modelRef)),
	)
}

// StartToolCall opens a span around one tool invocation.
func StartToolCall(ctx context.Context, worker, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "codepipe.tool "+tool,
		trace.WithAttributes(AttrWorker.String(worker), AttrTool.String(tool)),
	)
}

// End records err (if any) and the outcome label, then ends span.
func End(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(AttrOutcome.String(outcome))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
