package bindings

import (
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/protocol"
)

// QueueMessage is the decoded form of a queue binding. The message
// properties are only populated for the trigger binding. A decoded message
// re-encodes with the wire type it arrived as; a constructed one encodes as
// bytes.
type QueueMessage struct {
	ID              string
	Body            []byte
	DequeueCount    int64
	PopReceipt      string
	InsertionTime   time.Time
	ExpirationTime  time.Time
	NextVisibleTime time.Time

	wire protocol.DataType
}

// QueueCodec handles queue triggers and queue out bindings.
type QueueCodec struct{}

func (QueueCodec) Decode(data protocol.TypedData, meta map[string]protocol.TypedData, native NativeType) (any, error) {
	body, ok := payload(data)
	if !ok {
		return nil, fmt.Errorf("%w: queue message of type %q", ErrUnsupportedType, data.Type())
	}
	switch native {
	case NativeString:
		return string(body), nil
	case NativeBytes:
		return body, nil
	case NativeAny:
	default:
		return nil, fmt.Errorf("%w: queue binding cannot decode to %s", ErrUnsupportedType, native)
	}
	return &QueueMessage{
		ID:              metaString(meta, "Id"),
		Body:            body,
		DequeueCount:    metaInt(meta, "DequeueCount"),
		PopReceipt:      metaString(meta, "PopReceipt"),
		InsertionTime:   metaTime(meta, "InsertionTime"),
		ExpirationTime:  metaTime(meta, "ExpirationTime"),
		NextVisibleTime: metaTime(meta, "NextVisibleTime"),
		wire:            data.Type(),
	}, nil
}

func (QueueCodec) Encode(v any, _ NativeType) (protocol.TypedData, error) {
	switch val := v.(type) {
	case string:
		return protocol.StringData(val), nil
	case []byte:
		return protocol.BytesData(val), nil
	case *QueueMessage:
		if val == nil {
			break
		}
		return encodePayload(val.Body, val.wire), nil
	}
	return protocol.TypedData{}, fmt.Errorf("%w: queue binding cannot encode %T", ErrUnsupportedType, v)
}
