package observability

import (
	"context"

	"github.com/oriys/pulsar/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for worker spans.
var (
	AttrFunctionID   = attribute.Key("pulsar.function.id")
	AttrFunctionName = attribute.Key("pulsar.function.name")
	AttrInvocationID = attribute.Key("pulsar.invocation.id")
	AttrRequestID    = attribute.Key("pulsar.request_id")
	AttrAsync        = attribute.Key("pulsar.async")
)

// StartSpan creates an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartInvocationSpan starts the server span of an invocation. The host's
// trace context, when present, becomes the remote parent and its attributes
// are copied onto the span.
func StartInvocationSpan(ctx context.Context, req *protocol.InvocationRequest) (context.Context, trace.Span) {
	ctx = InjectTraceContext(ctx, req.TraceContext)
	attrs := []attribute.KeyValue{
		AttrInvocationID.String(req.InvocationID),
		AttrFunctionID.String(req.FunctionID),
	}
	if req.TraceContext != nil {
		for k, v := range req.TraceContext.Attributes {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	return Tracer().Start(ctx, "invoke "+req.FunctionID,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
