package bindings

import (
	"fmt"

	"github.com/oriys/pulsar/internal/protocol"
)

// Blob is the decoded form of a blob binding. Name and URI come from the
// trigger metadata and are empty for non-trigger blob inputs. Like
// QueueMessage, a decoded Blob re-encodes with its original wire type.
type Blob struct {
	Name   string
	URI    string
	Length int64
	Data   []byte

	wire protocol.DataType
}

// BlobCodec handles blob triggers, blob inputs and blob outputs.
type BlobCodec struct{}

func (BlobCodec) Decode(data protocol.TypedData, meta map[string]protocol.TypedData, native NativeType) (any, error) {
	raw, ok := payload(data)
	if !ok {
		return nil, fmt.Errorf("%w: blob of type %q", ErrUnsupportedType, data.Type())
	}
	switch native {
	case NativeString:
		return string(raw), nil
	case NativeBytes:
		return raw, nil
	case NativeAny:
		return &Blob{
			Name:   metaString(meta, "BlobTrigger"),
			URI:    metaString(meta, "Uri"),
			Length: int64(len(raw)),
			Data:   raw,
			wire:   data.Type(),
		}, nil
	}
	return nil, fmt.Errorf("%w: blob binding cannot decode to %s", ErrUnsupportedType, native)
}

func (BlobCodec) Encode(v any, _ NativeType) (protocol.TypedData, error) {
	switch val := v.(type) {
	case string:
		return protocol.StringData(val), nil
	case []byte:
		return protocol.BytesData(val), nil
	case *Blob:
		if val != nil {
			return encodePayload(val.Data, val.wire), nil
		}
	}
	return protocol.TypedData{}, fmt.Errorf("%w: blob binding cannot encode %T", ErrUnsupportedType, v)
}
