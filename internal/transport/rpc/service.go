// Package rpc connects the worker to its host over a gRPC bidirectional
// stream. The worker dials the host, opens FunctionRpc/EventStream, sends
// start_stream with its id and then answers the requests the host streams
// back. Messages are protocol envelopes encoded as JSON.
package rpc

import (
	"context"

	"github.com/oriys/pulsar/internal/protocol"
	"google.golang.org/grpc"
)

// EventStreamMethod is the full method name of the event stream.
const EventStreamMethod = "/pulsar.FunctionRpc/EventStream"

// FunctionRpcServer is implemented by hosts.
type FunctionRpcServer interface {
	EventStream(FunctionRpc_EventStreamServer) error
}

// FunctionRpc_EventStreamServer is the host side of an event stream.
type FunctionRpc_EventStreamServer interface {
	Send(*protocol.StreamingMessage) error
	Recv() (*protocol.StreamingMessage, error)
	grpc.ServerStream
}

// FunctionRpc_EventStreamClient is the worker side of an event stream.
type FunctionRpc_EventStreamClient interface {
	Send(*protocol.StreamingMessage) error
	Recv() (*protocol.StreamingMessage, error)
	grpc.ClientStream
}

// ServiceDesc describes the FunctionRpc service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "pulsar.FunctionRpc",
	HandlerType: (*FunctionRpcServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "EventStream",
			Handler:       eventStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pulsar/function_rpc",
}

// RegisterFunctionRpcServer registers srv on s. s must be created with
// ServerOptions so the JSON codec is used.
func RegisterFunctionRpcServer(s grpc.ServiceRegistrar, srv FunctionRpcServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServerOptions returns the options a host's grpc.Server needs.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
}

func eventStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(FunctionRpcServer).EventStream(&eventStreamServer{stream})
}

type eventStreamServer struct {
	grpc.ServerStream
}

func (x *eventStreamServer) Send(m *protocol.StreamingMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *eventStreamServer) Recv() (*protocol.StreamingMessage, error) {
	m := new(protocol.StreamingMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// FunctionRpcClient opens event streams on a connection.
type FunctionRpcClient struct {
	cc grpc.ClientConnInterface
}

// NewFunctionRpcClient wraps cc.
func NewFunctionRpcClient(cc grpc.ClientConnInterface) *FunctionRpcClient {
	return &FunctionRpcClient{cc: cc}
}

// EventStream opens a new event stream.
func (c *FunctionRpcClient) EventStream(ctx context.Context, opts ...grpc.CallOption) (FunctionRpc_EventStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], EventStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &eventStreamClient{stream}, nil
}

type eventStreamClient struct {
	grpc.ClientStream
}

func (x *eventStreamClient) Send(m *protocol.StreamingMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *eventStreamClient) Recv() (*protocol.StreamingMessage, error) {
	m := new(protocol.StreamingMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
