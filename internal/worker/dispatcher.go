// Package worker implements the host protocol: a dispatcher that answers
// Init, Load, Invoke, EnvironmentReload and WorkerStatus requests, and the
// execution router that runs function bodies inline or on the sync pool.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/protocol"
)

// State of the dispatcher's session.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Stream is a bidirectional message channel to the host. Recv returns
// io.EOF when the host has no more requests.
type Stream interface {
	Recv() (*protocol.StreamingMessage, error)
	Send(*protocol.StreamingMessage) error
}

// Dispatcher routes host requests to their handlers. The pool, codecs and
// metrics are shared; the Init state and the function registry belong to
// a session. Each Serve call runs its own session, and Dispatch uses a
// session owned by the Dispatcher.
type Dispatcher struct {
	loader   functions.Loader
	local    *session
	codecs   *bindings.Registry
	pool     *Pool
	env      envGate

	metrics  *metrics.Metrics
	invLog   *logging.Logger
	workerID string
	version  string
	timeout  time.Duration
	poolSize int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCodecs sets the binding codec table. Defaults to bindings.DefaultRegistry().
func WithCodecs(c *bindings.Registry) Option {
	return func(d *Dispatcher) {
		d.codecs = c
	}
}

// WithPoolSize sets the number of sync pool workers.
func WithPoolSize(n int) Option {
	return func(d *Dispatcher) {
		d.poolSize = n
	}
}

// WithMetrics records invocation and request metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithInvocationTimeout bounds each invocation. Zero means no bound.
func WithInvocationTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

// WithWorkerID sets the id reported to the host.
func WithWorkerID(id string) Option {
	return func(d *Dispatcher) {
		d.workerID = id
	}
}

// WithVersion sets the worker version reported on Init.
func WithVersion(v string) Option {
	return func(d *Dispatcher) {
		d.version = v
	}
}

// WithInvocationLog writes one record per finished invocation to l.
func WithInvocationLog(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.invLog = l
	}
}

// New creates a dispatcher and starts its sync pool. Call Close to stop it.
func New(loader functions.Loader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		loader:  loader,
		version: "dev",
		invLog:  logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.codecs == nil {
		d.codecs = bindings.DefaultRegistry()
	}
	d.local = d.newSession(nil)
	d.pool = NewPool(d.poolSize, d.metrics)
	d.pool.Start()
	return d
}

// Close stops the sync pool.
func (d *Dispatcher) Close() {
	d.pool.Stop()
}

// State returns the state of the session used by Dispatch.
func (d *Dispatcher) State() State {
	return d.local.State()
}

// Registry returns the function registry of the session used by Dispatch.
func (d *Dispatcher) Registry() *functions.Registry {
	return d.local.registry
}

// WorkerID returns the id reported to the host.
func (d *Dispatcher) WorkerID() string {
	return d.workerID
}

// Dispatch handles one request and returns its response. It never returns
// nil: errors and panics become a Failure response echoing the request id.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *protocol.StreamingMessage) *protocol.StreamingMessage {
	if msg.Kind() == protocol.KindInvocationRequest {
		lease := d.env.enter()
		defer lease.release()
		ctx = withEnvLease(ctx, lease)
	}
	return d.dispatch(ctx, d.local, msg)
}

func (d *Dispatcher) dispatch(ctx context.Context, sess *session, msg *protocol.StreamingMessage) (resp *protocol.StreamingMessage) {
	kind := msg.Kind()
	requestID := ""
	if msg != nil {
		requestID = msg.RequestID
	}
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: debug.Stack()}
			logging.Op().ErrorContext(ctx, "request handler panicked", "kind", kind, "request_id", requestID, "panic", r)
			resp = panicResponse(requestID, kind, msg, err)
		}
		d.metrics.RecordRequest(string(kind), resp.Result().OK())
	}()

	resp = &protocol.StreamingMessage{RequestID: requestID}
	switch kind {
	case protocol.KindWorkerInitRequest:
		resp.WorkerInitResponse = d.handleInit(ctx, sess, msg.WorkerInitRequest)
	case protocol.KindFunctionLoadRequest:
		resp.FunctionLoadResponse = d.handleLoad(ctx, sess, msg.FunctionLoadRequest)
	case protocol.KindInvocationRequest:
		resp.InvocationResponse = d.handleInvoke(ctx, sess, requestID, msg.InvocationRequest)
	case protocol.KindEnvironmentReloadRequest:
		resp.FunctionEnvironmentReloadResponse = d.handleEnvironmentReload(ctx, msg.FunctionEnvironmentReloadRequest)
	case protocol.KindWorkerStatusRequest:
		resp.WorkerStatusResponse = &protocol.WorkerStatusResponse{Result: protocol.Success()}
	default:
		logging.Op().Warn("unknown request kind", "request_id", requestID, "kind", kind)
		resp.WorkerStatusResponse = &protocol.WorkerStatusResponse{Result: failure(ErrUnknownRequest)}
	}
	return resp
}

// panicResponse builds the Failure for a handler that panicked, keeping the
// response kind that matches the request.
func panicResponse(requestID string, kind protocol.Kind, msg *protocol.StreamingMessage, err error) *protocol.StreamingMessage {
	result := failure(err)
	resp := &protocol.StreamingMessage{RequestID: requestID}
	switch kind {
	case protocol.KindWorkerInitRequest:
		resp.WorkerInitResponse = &protocol.WorkerInitResponse{Result: result}
	case protocol.KindFunctionLoadRequest:
		resp.FunctionLoadResponse = &protocol.FunctionLoadResponse{FunctionID: msg.FunctionLoadRequest.FunctionID, Result: result}
	case protocol.KindInvocationRequest:
		resp.InvocationResponse = &protocol.InvocationResponse{InvocationID: msg.InvocationRequest.InvocationID, Result: result}
	case protocol.KindEnvironmentReloadRequest:
		resp.FunctionEnvironmentReloadResponse = &protocol.FunctionEnvironmentReloadResponse{Result: result}
	default:
		resp.WorkerStatusResponse = &protocol.WorkerStatusResponse{Result: result}
	}
	return resp
}

// Serve answers requests from s until it ends or ctx is done. Every call
// starts a new session: uninitialized, with an empty function registry.
// Control requests are handled in receive order on the calling goroutine;
// each invocation runs on its own goroutine. When Recv returns io.EOF,
// Serve waits for in-flight invocations and returns nil. A message the
// stream could not decode is logged and skipped. Any other receive error
// cancels in-flight invocations and is returned after they finish.
func (d *Dispatcher) Serve(parent context.Context, s Stream) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := d.newSession(s)
	ctx = logging.WithSink(ctx, sess)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logging.Op().Info("host closed the stream", "worker_id", d.workerID)
				return nil
			}
			if errors.Is(err, ErrMalformedMessage) {
				logging.Op().Warn("skipping malformed message", "worker_id", d.workerID, "error", err)
				continue
			}
			cancel()
			if parent.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if msg == nil {
			continue
		}

		if msg.Kind() == protocol.KindInvocationRequest {
			lease := d.env.enter()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer lease.release()
				sess.send(d.dispatch(withEnvLease(ctx, lease), sess, msg))
			}()
			continue
		}
		sess.send(d.dispatch(ctx, sess, msg))
	}
}

// session is the state of one host conversation: the Init state, the
// functions loaded so far and the stream responses go to. It serializes
// sends and forwards invocation logs to the host as rpc_log messages.
type session struct {
	state    atomic.Int32
	registry *functions.Registry

	mu     sync.Mutex
	stream Stream
}

func (d *Dispatcher) newSession(s Stream) *session {
	return &session{registry: functions.NewRegistry(d.codecs), stream: s}
}

// State returns the session's state.
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) send(msg *protocol.StreamingMessage) {
	s.mu.Lock()
	err := s.stream.Send(msg)
	s.mu.Unlock()
	if err != nil {
		logging.Op().Error("send response failed", "request_id", msg.RequestID, "error", err)
	}
}

func (s *session) Emit(_ context.Context, rec logging.Record) {
	category, _ := rec.Attrs["category"].(string)
	if category == "" {
		category = "Function"
	}
	entry := &protocol.RpcLog{
		InvocationID: rec.InvocationID,
		Category:     category,
		Level:        logging.LevelName(rec.Level),
		Message:      rec.Message,
	}
	if len(rec.Attrs) > 0 {
		if props, err := json.Marshal(rec.Attrs); err == nil {
			entry.Properties = string(props)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Best effort.
	_ = s.stream.Send(&protocol.StreamingMessage{RpcLog: entry})
}
