// Package redisq serves the worker protocol over a pair of Redis lists.
// The host LPUSHes request envelopes to <prefix>:<worker>:requests and the
// worker LPUSHes responses to <prefix>:<worker>:responses. BRPOP delivers
// each request to exactly one worker, so several workers may share an id.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/protocol"
	"github.com/oriys/pulsar/internal/worker"
)

const defaultPollInterval = time.Second

// RequestsKey returns the list the host pushes requests to.
func RequestsKey(prefix, workerID string) string {
	return fmt.Sprintf("%s:%s:requests", prefix, workerID)
}

// ResponsesKey returns the list the worker pushes responses to.
func ResponsesKey(prefix, workerID string) string {
	return fmt.Sprintf("%s:%s:responses", prefix, workerID)
}

// Stream adapts the request and response lists to worker.Stream. Recv
// returns io.EOF once ctx is done.
type Stream struct {
	ctx       context.Context
	client    *redis.Client
	requests  string
	responses string
	poll      time.Duration
}

var _ worker.Stream = (*Stream)(nil)

// NewStream returns a stream over the lists of workerID.
func NewStream(ctx context.Context, client *redis.Client, prefix, workerID string) *Stream {
	return &Stream{
		ctx:       ctx,
		client:    client,
		requests:  RequestsKey(prefix, workerID),
		responses: ResponsesKey(prefix, workerID),
		poll:      defaultPollInterval,
	}
}

// Recv blocks until a request arrives. An entry that is not a message is
// consumed and reported as worker.ErrMalformedMessage.
func (s *Stream) Recv() (*protocol.StreamingMessage, error) {
	for {
		if s.ctx.Err() != nil {
			return nil, io.EOF
		}

		// BRPOP with a short timeout so cancellation is observed.
		result, err := s.client.BRPop(s.ctx, s.poll, s.requests).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if s.ctx.Err() != nil {
				return nil, io.EOF
			}
			logging.Op().Warn("redis receive failed", "key", s.requests, "error", err)
			select {
			case <-s.ctx.Done():
				return nil, io.EOF
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		msg := new(protocol.StreamingMessage)
		if err := json.Unmarshal([]byte(result[1]), msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", worker.ErrMalformedMessage, s.requests, err)
		}
		return msg, nil
	}
}

// Send pushes msg to the response list. Sends are not bound to the
// stream's context so responses of drained invocations still go out.
func (s *Stream) Send(msg *protocol.StreamingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.client.LPush(ctx, s.responses, data).Err(); err != nil {
		return fmt.Errorf("push %s: %w", s.responses, err)
	}
	return nil
}

// Handler serves one stream. *worker.Dispatcher implements it.
type Handler interface {
	Serve(ctx context.Context, s worker.Stream) error
}

// Run announces the worker with a start_stream message and serves requests
// until ctx is done.
func Run(ctx context.Context, client *redis.Client, prefix, workerID string, h Handler) error {
	s := NewStream(ctx, client, prefix, workerID)
	if err := s.Send(&protocol.StreamingMessage{StartStream: &protocol.StartStream{WorkerID: workerID}}); err != nil {
		return fmt.Errorf("announce worker: %w", err)
	}
	logging.Op().Info("redis queue transport started", "requests", s.requests, "responses", s.responses)
	return h.Serve(ctx, s)
}
