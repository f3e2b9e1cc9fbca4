package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const sessionTracerName = "agentdeck-session"

func sessionTracer() trace.Tracer {
	return Tracer(sessionTracerName)
}

// TraceTurn creates a span covering one agent turn, from turn/start until
// the completion notification settles.
func TraceTurn(ctx context.Context, threadID string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.turn",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("thread_id", threadID))
	return ctx, span
}

// TraceThreadStart creates a span for thread/start or thread/resume.
func TraceThreadStart(ctx context.Context, resume bool) (context.Context, trace.Span) {
	name := "session.thread_start"
	if resume {
		name = "session.thread_resume"
	}
	return sessionTracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// RecordResult marks the span according to err and ends it.
func RecordResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
