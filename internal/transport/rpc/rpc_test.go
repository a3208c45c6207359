package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/protocol"
	"github.com/oriys/pulsar/internal/worker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// fakeHost drives a worker through init, load and one invocation and
// records what it saw.
type fakeHost struct {
	workerID chan string
	results  chan *protocol.StreamingMessage
	errs     chan error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		workerID: make(chan string, 1),
		results:  make(chan *protocol.StreamingMessage, 8),
		errs:     make(chan error, 1),
	}
}

func (h *fakeHost) EventStream(stream FunctionRpc_EventStreamServer) error {
	first, err := stream.Recv()
	if err != nil {
		h.errs <- err
		return err
	}
	if first.Kind() != protocol.KindStartStream {
		err := fmt.Errorf("first message kind %s, want start_stream", first.Kind())
		h.errs <- err
		return err
	}
	h.workerID <- first.StartStream.WorkerID

	requests := []*protocol.StreamingMessage{
		{RequestID: "1", WorkerInitRequest: &protocol.WorkerInitRequest{HostVersion: "test"}},
		{RequestID: "2", FunctionLoadRequest: &protocol.FunctionLoadRequest{
			FunctionID: "echo",
			Metadata: protocol.RpcFunctionMetadata{
				Name: "echo", ScriptFile: "main.go", EntryPoint: "Echo",
				Bindings: map[string]protocol.BindingInfo{
					"in":      {Type: "generic", Direction: protocol.DirectionIn, DataType: "string"},
					"$return": {Type: "generic", Direction: protocol.DirectionOut},
				},
			},
		}},
		{RequestID: "3", InvocationRequest: &protocol.InvocationRequest{
			InvocationID: "inv-1",
			FunctionID:   "echo",
			InputData:    []protocol.ParameterBinding{{Name: "in", Data: protocol.StringData("ping")}},
		}},
	}
	for _, req := range requests {
		if err := stream.Send(req); err != nil {
			h.errs <- err
			return err
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				h.errs <- err
				return err
			}
			if resp.Kind() == protocol.KindRpcLog {
				continue
			}
			h.results <- resp
			break
		}
	}
	close(h.results)
	return nil
}

func startHost(t *testing.T, h FunctionRpcServer) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOptions()...)
	RegisterFunctionRpcServer(srv, h)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func newDispatcher(t *testing.T) *worker.Dispatcher {
	t.Helper()
	cat := functions.NewCatalog()
	if err := cat.Register("main.go", "Echo", functions.Loaded{
		IsAsync: true,
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			return args["in"], nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := worker.New(cat, worker.WithPoolSize(1), worker.WithInvocationLog(nil))
	t.Cleanup(d.Close)
	return d
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestClientRunAgainstHost(t *testing.T) {
	host := newFakeHost()
	lis := startHost(t, host)

	c := &Client{
		WorkerID:    "worker-7",
		Handler:     newDispatcher(t),
		DialOptions: []grpc.DialOption{bufDialer(lis)},
	}
	cc, err := c.Dial("passthrough:///bufnet")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx, cc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case id := <-host.workerID:
		if id != "worker-7" {
			t.Fatalf("start_stream worker id = %q", id)
		}
	default:
		t.Fatal("host never saw start_stream")
	}
	select {
	case err := <-host.errs:
		t.Fatalf("host error: %v", err)
	default:
	}

	var got []*protocol.StreamingMessage
	for resp := range host.results {
		got = append(got, resp)
	}
	if len(got) != 3 {
		t.Fatalf("got %d responses, want 3", len(got))
	}
	wantKinds := []protocol.Kind{
		protocol.KindWorkerInitResponse,
		protocol.KindFunctionLoadResponse,
		protocol.KindInvocationResponse,
	}
	for i, resp := range got {
		if resp.Kind() != wantKinds[i] || !resp.Result().OK() {
			t.Fatalf("response %d = %+v", i, resp)
		}
		if resp.RequestID != fmt.Sprint(i+1) {
			t.Fatalf("response %d request id = %q", i, resp.RequestID)
		}
	}
	ret := got[2].InvocationResponse.ReturnValue
	if ret == nil || ret.String == nil || *ret.String != "ping" {
		t.Fatalf("return value = %+v", ret)
	}
}

type rejectingHost struct {
	calls chan struct{}
}

func (h *rejectingHost) EventStream(stream FunctionRpc_EventStreamServer) error {
	h.calls <- struct{}{}
	return errors.New("host not ready")
}

func TestClientRunWithRetryStopsOnCancel(t *testing.T) {
	host := &rejectingHost{calls: make(chan struct{}, 16)}
	lis := startHost(t, host)

	c := &Client{
		WorkerID:         "worker-1",
		Handler:          newDispatcher(t),
		DialOptions:      []grpc.DialOption{bufDialer(lis)},
		MaxRetryInterval: 50 * time.Millisecond,
	}
	cc, err := c.Dial("passthrough:///bufnet")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunWithRetry(ctx, cc) }()

	for i := 0; i < 2; i++ {
		select {
		case <-host.calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected stream attempt %d", i+1)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithRetry after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithRetry did not return after cancel")
	}
}

func TestJSONCodecRejectsForeignTypes(t *testing.T) {
	var c jsonCodec
	if _, err := c.Marshal("nope"); err == nil {
		t.Fatal("Marshal should reject non-envelope values")
	}
	if err := c.Unmarshal([]byte(`{}`), new(int)); err == nil {
		t.Fatal("Unmarshal should reject non-envelope values")
	}
	if c.Name() != "json" {
		t.Fatalf("Name = %q", c.Name())
	}
}
