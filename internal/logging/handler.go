package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oriys/pulsar/internal/invocation"
	"go.opentelemetry.io/otel/trace"
)

// Sink receives log records emitted on behalf of an invocation. The
// dispatcher attaches one per session to forward logs to the host.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// Record is a log line bound for a Sink.
type Record struct {
	InvocationID string
	Level        slog.Level
	Message      string
	Attrs        map[string]any
}

type sinkKey struct{}

// WithSink attaches s to ctx. Records logged under the returned context are
// forwarded to s in addition to the regular output.
func WithSink(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, s)
}

// SinkFrom returns the Sink attached to ctx, or nil.
func SinkFrom(ctx context.Context) Sink {
	s, _ := ctx.Value(sinkKey{}).(Sink)
	return s
}

// InvocationHandler decorates records with the invocation token and the
// active trace span found in the record's context.
type InvocationHandler struct {
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

// NewInvocationHandler wraps next.
func NewInvocationHandler(next slog.Handler) *InvocationHandler {
	return &InvocationHandler{next: next}
}

func (h *InvocationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *InvocationHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, r)
	}
	id := invocation.ID(ctx)
	if id != "" {
		r = r.Clone()
		r.AddAttrs(slog.String("invocation_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if id == "" {
			r = r.Clone()
		}
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if s := SinkFrom(ctx); s != nil && id != "" {
		s.Emit(ctx, h.record(id, r))
	}
	return h.next.Handle(ctx, r)
}

func (h *InvocationHandler) record(id string, r slog.Record) Record {
	rec := Record{InvocationID: id, Level: r.Level, Message: r.Message}
	prefix := strings.Join(h.groups, ".")
	add := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		if rec.Attrs == nil {
			rec.Attrs = make(map[string]any)
		}
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		rec.Attrs[key] = a.Value.Resolve().Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "invocation_id" {
			add(a)
		}
		return true
	})
	return rec
}

func (h *InvocationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &InvocationHandler{
		next:   h.next.WithAttrs(attrs),
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *InvocationHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &InvocationHandler{
		next:   h.next.WithGroup(name),
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

// LevelName maps a slog level to the name used on the wire.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "information"
	default:
		return "debug"
	}
}
