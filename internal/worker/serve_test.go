package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/protocol"
)

// chanStream is an in-memory Stream. Closing in ends the session with io.EOF.
type chanStream struct {
	in      chan *protocol.StreamingMessage
	out     chan *protocol.StreamingMessage
	recvErr error
}

func newChanStream() *chanStream {
	return &chanStream{
		in:  make(chan *protocol.StreamingMessage, 16),
		out: make(chan *protocol.StreamingMessage, 64),
	}
}

// undecodable stands in for a message the transport could not decode.
var undecodable = &protocol.StreamingMessage{}

func (s *chanStream) Recv() (*protocol.StreamingMessage, error) {
	msg, ok := <-s.in
	if !ok {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, io.EOF
	}
	if msg == undecodable {
		return nil, fmt.Errorf("%w: invalid character 'x'", ErrMalformedMessage)
	}
	return msg, nil
}

func (s *chanStream) Send(msg *protocol.StreamingMessage) error {
	s.out <- msg
	return nil
}

// next returns the next response, skipping rpc_log messages.
func (s *chanStream) next(t *testing.T) *protocol.StreamingMessage {
	t.Helper()
	for {
		select {
		case msg := <-s.out:
			if msg.RpcLog != nil {
				continue
			}
			return msg
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a response")
			return nil
		}
	}
}

func serve(t *testing.T, d *Dispatcher, s *chanStream) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- d.Serve(context.Background(), s) }()
	return errc
}

func TestServeSlowSyncDoesNotBlockFastInvoke(t *testing.T) {
	release := make(chan struct{})
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Slow", functions.Loaded{
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return "slow", nil
		},
	})
	_ = cat.Register("main.go", "Fast", functions.Loaded{
		Func: func(ctx context.Context, args map[string]any) (any, error) { return "fast", nil },
	})
	d := newTestDispatcher(t, cat)
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- loadMsg("l1", "slow", "Slow", returnBinding)
	s.in <- loadMsg("l2", "fast", "Fast", returnBinding)
	for i := 0; i < 3; i++ {
		mustSucceed(t, s.next(t))
	}

	s.in <- invokeMsg("r-slow", "inv-slow", "slow")
	s.in <- invokeMsg("r-fast", "inv-fast", "fast")

	first := s.next(t)
	mustSucceed(t, first)
	if first.InvocationResponse.InvocationID != "inv-fast" {
		t.Fatalf("first response = %s, want inv-fast", first.InvocationResponse.InvocationID)
	}
	close(release)
	second := s.next(t)
	mustSucceed(t, second)
	if second.InvocationResponse.InvocationID != "inv-slow" {
		t.Fatalf("second response = %s, want inv-slow", second.InvocationResponse.InvocationID)
	}

	close(s.in)
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServeControlOrdering(t *testing.T) {
	t.Setenv("PULSAR_TEST_SERVE_A", "")

	loader := loaderFunc(func(ctx context.Context, md functions.Metadata) (*functions.Loaded, error) {
		v := os.Getenv("PULSAR_TEST_SERVE_A")
		return &functions.Loaded{
			IsAsync: true,
			Func:    func(context.Context, map[string]any) (any, error) { return v, nil },
		}, nil
	})
	d := newTestDispatcher(t, loader)
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- &protocol.StreamingMessage{
		RequestID: "env",
		FunctionEnvironmentReloadRequest: &protocol.FunctionEnvironmentReloadRequest{
			EnvironmentVariables: map[string]string{"PULSAR_TEST_SERVE_A": "1"},
		},
	}
	s.in <- loadMsg("load", "fn", "Env", returnBinding)
	s.in <- invokeMsg("invoke", "inv", "fn")
	close(s.in)

	for _, want := range []string{"init", "env", "load", "invoke"} {
		resp := s.next(t)
		mustSucceed(t, resp)
		if resp.RequestID != want {
			t.Fatalf("response %q arrived, want %q", resp.RequestID, want)
		}
		if want == "invoke" && *resp.InvocationResponse.ReturnValue.String != "1" {
			t.Fatalf("load observed A=%q", *resp.InvocationResponse.ReturnValue.String)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServeExactlyOneResponsePerInvoke(t *testing.T) {
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Ok", functions.Loaded{IsAsync: true, Func: func(context.Context, map[string]any) (any, error) { return nil, nil }})
	_ = cat.Register("main.go", "Err", functions.Loaded{Func: func(context.Context, map[string]any) (any, error) { return nil, errors.New("nope") }})
	d := newTestDispatcher(t, cat)
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- loadMsg("l1", "ok", "Ok", nil)
	s.in <- loadMsg("l2", "err", "Err", nil)
	for i := 0; i < 3; i++ {
		mustSucceed(t, s.next(t))
	}

	want := map[string]bool{"inv-ok": true, "inv-err": false, "inv-missing": false}
	s.in <- invokeMsg("r1", "inv-ok", "ok")
	s.in <- invokeMsg("r2", "inv-err", "err")
	s.in <- invokeMsg("r3", "inv-missing", "missing")
	close(s.in)
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	seen := make(map[string]int)
	for len(s.out) > 0 {
		msg := <-s.out
		if msg.RpcLog != nil {
			continue
		}
		ir := msg.InvocationResponse
		if ir == nil {
			t.Fatalf("unexpected message %+v", msg)
		}
		seen[ir.InvocationID]++
		if ir.Result.OK() != want[ir.InvocationID] {
			t.Fatalf("%s: result %+v", ir.InvocationID, ir.Result)
		}
	}
	for id := range want {
		if seen[id] != 1 {
			t.Fatalf("%s: %d responses, want 1", id, seen[id])
		}
	}
}

func TestServeForwardsInvocationLogs(t *testing.T) {
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Chatty", functions.Loaded{
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			logging.Op().InfoContext(ctx, "from function", "answer", 42)
			return nil, nil
		},
	})
	d := newTestDispatcher(t, cat)
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- loadMsg("l1", "chatty", "Chatty", nil)
	s.in <- invokeMsg("r1", "inv-log", "chatty")
	close(s.in)
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var found *protocol.RpcLog
	for len(s.out) > 0 {
		if msg := <-s.out; msg.RpcLog != nil && msg.RpcLog.Message == "from function" {
			found = msg.RpcLog
		}
	}
	if found == nil {
		t.Fatal("function log was not forwarded to the host")
	}
	if found.InvocationID != "inv-log" || found.Level != "information" || found.Category != "Function" {
		t.Fatalf("unexpected rpc_log: %+v", found)
	}
	if found.Properties == "" {
		t.Fatal("attributes missing from rpc_log")
	}
}

func TestServeEOFWaitsForInFlight(t *testing.T) {
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Slow", functions.Loaded{
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, ctx.Err()
		},
	})
	d := newTestDispatcher(t, cat)
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- loadMsg("l1", "slow", "Slow", nil)
	s.in <- invokeMsg("r1", "inv", "slow")
	close(s.in)

	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var last *protocol.StreamingMessage
	for len(s.out) > 0 {
		if msg := <-s.out; msg.RpcLog == nil {
			last = msg
		}
	}
	if last == nil || last.InvocationResponse == nil {
		t.Fatalf("invocation response not sent before Serve returned: %+v", last)
	}
	mustSucceed(t, last)
}

func TestServeReceiveErrorCancelsInvocations(t *testing.T) {
	started := make(chan struct{})
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Wait", functions.Loaded{
		IsAsync: true,
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	d := newTestDispatcher(t, cat)
	s := newChanStream()
	s.recvErr = errors.New("connection reset")
	errc := serve(t, d, s)

	s.in <- initMsg()
	s.in <- loadMsg("l1", "wait", "Wait", nil)
	s.in <- invokeMsg("r1", "inv", "wait")
	<-started
	close(s.in)

	select {
	case err := <-errc:
		if err == nil || !errors.Is(err, s.recvErr) {
			t.Fatalf("Serve error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeSessionsAreIndependent(t *testing.T) {
	cat := functions.NewCatalog()
	_ = cat.Register("main.go", "Hello", functions.Loaded{
		IsAsync: true,
		Func:    func(context.Context, map[string]any) (any, error) { return "hi", nil },
	})
	d := newTestDispatcher(t, cat)

	first := newChanStream()
	errc := serve(t, d, first)
	first.in <- initMsg()
	first.in <- loadMsg("l1", "fn1", "Hello", returnBinding)
	mustSucceed(t, first.next(t))
	mustSucceed(t, first.next(t))
	close(first.in)
	if err := <-errc; err != nil {
		t.Fatalf("first Serve: %v", err)
	}

	second := newChanStream()
	errc = serve(t, d, second)
	second.in <- loadMsg("early", "fn2", "Hello", returnBinding)
	mustFail(t, second.next(t), "NotInitialized")
	second.in <- invokeMsg("inv-old", "inv-0", "fn1")
	mustFail(t, second.next(t), "FunctionNotFound")

	second.in <- initMsg()
	second.in <- loadMsg("l1", "fn1", "Hello", returnBinding)
	second.in <- invokeMsg("inv", "inv-1", "fn1")
	mustSucceed(t, second.next(t))
	mustSucceed(t, second.next(t))
	resp := second.next(t)
	mustSucceed(t, resp)
	if rv := resp.InvocationResponse.ReturnValue; rv == nil || rv.String == nil || *rv.String != "hi" {
		t.Fatalf("return value = %+v", rv)
	}
	close(second.in)
	if err := <-errc; err != nil {
		t.Fatalf("second Serve: %v", err)
	}
}

func TestServeSkipsUndecodableMessages(t *testing.T) {
	d := newTestDispatcher(t, functions.NewCatalog())
	s := newChanStream()
	errc := serve(t, d, s)

	s.in <- undecodable
	s.in <- initMsg()
	resp := s.next(t)
	mustSucceed(t, resp)
	if resp.RequestID != "init" {
		t.Fatalf("response = %+v, want the init response", resp)
	}
	close(s.in)
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
