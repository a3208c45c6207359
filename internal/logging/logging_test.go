package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/oriys/pulsar/internal/invocation"
	"go.opentelemetry.io/otel/trace"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
}

func (s *captureSink) Emit(_ context.Context, rec Record) {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewInvocationHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func decodeLine(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return m
}

func TestInvocationHandlerAddsInvocationID(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)

	ctx := invocation.WithToken(context.Background(), "inv-7")
	log.InfoContext(ctx, "hello", "k", "v")

	m := decodeLine(t, buf.Bytes())
	if m["invocation_id"] != "inv-7" {
		t.Fatalf("invocation_id = %v", m["invocation_id"])
	}
	if m["k"] != "v" {
		t.Fatalf("k = %v", m["k"])
	}
}

func TestInvocationHandlerWithoutToken(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)
	log.Info("plain")

	m := decodeLine(t, buf.Bytes())
	if _, ok := m["invocation_id"]; ok {
		t.Fatal("invocation_id must be absent without a token")
	}
}

func TestInvocationHandlerAddsTrace(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	log.InfoContext(ctx, "traced")

	m := decodeLine(t, buf.Bytes())
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("unexpected trace attrs: %v", m)
	}
}

func TestInvocationHandlerForwardsToSink(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf).With("component", "worker")

	sink := &captureSink{}
	ctx := WithSink(invocation.WithToken(context.Background(), "inv-8"), sink)
	log.WarnContext(ctx, "slow handler", "ms", 1200)
	log.InfoContext(WithSink(context.Background(), sink), "no token")

	if len(sink.recs) != 1 {
		t.Fatalf("sink got %d records, want 1", len(sink.recs))
	}
	rec := sink.recs[0]
	if rec.InvocationID != "inv-8" || rec.Message != "slow handler" || rec.Level != slog.LevelWarn {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Attrs["component"] != "worker" {
		t.Fatalf("handler attrs missing: %v", rec.Attrs)
	}
	if rec.Attrs["ms"] != int64(1200) {
		t.Fatalf("record attrs missing: %v", rec.Attrs)
	}
}

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(slog.LevelInfo)
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
	}
	for _, tt := range tests {
		SetLevelFromString(tt.in)
		if got := logLevel.Level(); got != tt.want {
			t.Fatalf("SetLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	SetLevelFromString("bogus")
	if logLevel.Level() != slog.LevelInfo {
		t.Fatal("unknown level must leave the level unchanged")
	}
}

func TestInitStructuredTo(t *testing.T) {
	prev := Op()
	defer SetLogger(prev)

	var buf bytes.Buffer
	InitStructuredTo(&buf, "json", "info")
	Op().InfoContext(invocation.WithToken(context.Background(), "inv-1"), "started")

	m := decodeLine(t, buf.Bytes())
	if m["msg"] != "started" || m["invocation_id"] != "inv-1" {
		t.Fatalf("unexpected line: %v", m)
	}
}

func TestLevelName(t *testing.T) {
	if LevelName(slog.LevelError) != "error" || LevelName(slog.LevelWarn) != "warning" ||
		LevelName(slog.LevelInfo) != "information" || LevelName(slog.LevelDebug) != "debug" {
		t.Fatal("unexpected level names")
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func TestInvocationLogger(t *testing.T) {
	var file, console bytes.Buffer
	l := &Logger{}
	l.Log(&InvocationLog{InvocationID: "dropped"})

	l.SetWriter(nopCloser{&file})
	l.SetConsole(&console)
	l.Log(&InvocationLog{InvocationID: "inv-1", FunctionID: "fn", DurationMs: 12, Success: true})
	l.Log(&InvocationLog{InvocationID: "inv-2", FunctionID: "fn", Error: "boom", Async: true})

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d: %q", len(lines), file.String())
	}
	var entry InvocationLog
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.InvocationID != "inv-2" || entry.Success || entry.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	out := console.String()
	if !strings.Contains(out, "[invoke] ok inv-1 fn 12ms [sync]") || !strings.Contains(out, "error: boom") {
		t.Fatalf("unexpected console output: %q", out)
	}
}
