package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/protocol"
	"github.com/oriys/pulsar/internal/worker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Handler serves one host session. *worker.Dispatcher implements it.
type Handler interface {
	Serve(ctx context.Context, s worker.Stream) error
}

// Client runs the worker side of the event stream.
type Client struct {
	WorkerID string
	Handler  Handler
	// DialOptions are added to the defaults (insecure transport, logging
	// interceptor).
	DialOptions []grpc.DialOption
	// MaxRetryInterval caps the reconnect backoff. Zero selects 30s.
	MaxRetryInterval time.Duration
}

// Dial creates a client connection to target with the worker's defaults.
func (c *Client) Dial(target string) (*grpc.ClientConn, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(loggingStreamInterceptor),
	}, c.DialOptions...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial host %s: %w", target, err)
	}
	return cc, nil
}

// Run opens one event stream on cc and serves it until the host ends the
// stream, the stream fails or ctx is done.
func (c *Client) Run(ctx context.Context, cc grpc.ClientConnInterface) error {
	stream, err := NewFunctionRpcClient(cc).EventStream(ctx)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer stream.CloseSend()

	start := &protocol.StreamingMessage{StartStream: &protocol.StartStream{WorkerID: c.WorkerID}}
	if err := stream.Send(start); err != nil {
		return fmt.Errorf("send start_stream: %w", err)
	}
	logging.Op().Info("event stream started", "worker_id", c.WorkerID)

	err = c.Handler.Serve(ctx, stream)
	if status.Code(err) == codes.Canceled && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunWithRetry calls Run and reopens the stream with exponential backoff
// after failures. It returns nil when the host ends the stream cleanly or
// ctx is done.
func (c *Client) RunWithRetry(ctx context.Context, cc grpc.ClientConnInterface) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.MaxRetryInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.Run(ctx, cc)
		if err == nil || ctx.Err() != nil {
			return struct{}{}, nil
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Op().Warn("event stream failed, reconnecting", "error", err, "retry_in", next)
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// loggingStreamInterceptor logs stream lifetimes.
func loggingStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	start := time.Now()
	cs, err := streamer(ctx, desc, cc, method, opts...)
	if err != nil {
		logging.Op().Error("gRPC stream failed", "method", method, "duration", time.Since(start), "error", err)
		return nil, err
	}
	logging.Op().Debug("gRPC stream opened", "method", method, "target", cc.Target())
	return &loggedStream{ClientStream: cs, method: method, start: start}, nil
}

type loggedStream struct {
	grpc.ClientStream
	method string
	start  time.Time
}

func (s *loggedStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if errors.Is(err, io.EOF) {
		logging.Op().Info("gRPC stream closed by host", "method", s.method, "duration", time.Since(s.start))
	} else if err != nil {
		logging.Op().Error("gRPC stream receive failed", "method", s.method, "duration", time.Since(s.start), "error", err)
	}
	return err
}
