package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/oriys/pulsar/internal/protocol"
)

// jsonCodec marshals protocol envelopes as JSON on the gRPC wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(*protocol.StreamingMessage)
	if !ok {
		return nil, fmt.Errorf("json codec: unexpected message type %T", v)
	}
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*protocol.StreamingMessage)
	if !ok {
		return fmt.Errorf("json codec: unexpected message type %T", v)
	}
	return json.Unmarshal(data, msg)
}

func (jsonCodec) Name() string { return "json" }
