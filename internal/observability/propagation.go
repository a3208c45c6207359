package observability

import (
	"context"

	"github.com/oriys/pulsar/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ExtractTraceContext returns the W3C fields for the span active in ctx.
func ExtractTraceContext(ctx context.Context) *protocol.TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if carrier.Get("traceparent") == "" {
		return nil
	}
	return &protocol.TraceContext{
		TraceParent: carrier.Get("traceparent"),
		TraceState:  carrier.Get("tracestate"),
	}
}

// InjectTraceContext returns ctx with the remote span described by tc as
// parent. A nil or empty tc leaves ctx unchanged.
func InjectTraceContext(ctx context.Context, tc *protocol.TraceContext) context.Context {
	if tc == nil || tc.TraceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": tc.TraceParent}
	if tc.TraceState != "" {
		carrier["tracestate"] = tc.TraceState
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// GetTraceID returns the trace ID from context as a string
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the span ID from context as a string
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
