package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/thebtf/pride-mcp"

// Tracer returns the tracer used by the server.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartToolSpan starts a span around a tool invocation.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool."+tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("mcp.tool", tool)),
	)
}

// StartUpstreamSpan starts a client span around an upstream HTTP call.
func StartUpstreamSpan(ctx context.Context, operation, url string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.operation", operation),
			attribute.String("http.url", url),
		),
	)
}

// StartInternalSpan starts an internal span for an orchestration step.
func StartInternalSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
