package bindings

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/oriys/pulsar/internal/protocol"
)

// GenericCodec handles plain values: strings, bytes, JSON documents and
// numbers. JSON decodes to json.RawMessage so the document survives a round
// trip byte for byte.
type GenericCodec struct{}

func (GenericCodec) Decode(data protocol.TypedData, _ map[string]protocol.TypedData, native NativeType) (any, error) {
	switch native {
	case NativeAny:
		return decodeAny(data)
	case NativeString:
		switch data.Type() {
		case protocol.DataString:
			return *data.String, nil
		case protocol.DataJSON:
			return *data.JSON, nil
		case protocol.DataBytes:
			return string(data.Bytes), nil
		}
	case NativeBytes:
		switch data.Type() {
		case protocol.DataBytes:
			return data.Bytes, nil
		case protocol.DataString:
			return []byte(*data.String), nil
		case protocol.DataJSON:
			return []byte(*data.JSON), nil
		}
	case NativeJSON:
		switch data.Type() {
		case protocol.DataJSON:
			return rawJSON(*data.JSON)
		case protocol.DataString:
			return rawJSON(*data.String)
		case protocol.DataBytes:
			return rawJSON(string(data.Bytes))
		}
	case NativeInt:
		switch data.Type() {
		case protocol.DataInt:
			return *data.Int, nil
		case protocol.DataString:
			return strconv.ParseInt(*data.String, 10, 64)
		}
	case NativeDouble:
		switch data.Type() {
		case protocol.DataDouble:
			return *data.Double, nil
		case protocol.DataInt:
			return float64(*data.Int), nil
		case protocol.DataString:
			return strconv.ParseFloat(*data.String, 64)
		}
	}
	return nil, fmt.Errorf("%w: cannot decode %q data as %s", ErrUnsupportedType, data.Type(), native)
}

func decodeAny(data protocol.TypedData) (any, error) {
	switch data.Type() {
	case protocol.DataNone:
		return nil, nil
	case protocol.DataString:
		return *data.String, nil
	case protocol.DataJSON:
		return rawJSON(*data.JSON)
	case protocol.DataBytes:
		return data.Bytes, nil
	case protocol.DataInt:
		return *data.Int, nil
	case protocol.DataDouble:
		return *data.Double, nil
	default:
		return nil, fmt.Errorf("%w: generic binding cannot take %q data", ErrUnsupportedType, data.Type())
	}
}

func rawJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return json.RawMessage(s), nil
}

func (GenericCodec) Encode(v any, native NativeType) (protocol.TypedData, error) {
	switch val := v.(type) {
	case nil:
		return protocol.TypedData{}, nil
	case json.RawMessage:
		if !json.Valid(val) {
			return protocol.TypedData{}, fmt.Errorf("invalid JSON document")
		}
		return protocol.JSONData(string(val)), nil
	case string:
		if native == NativeJSON {
			if _, err := rawJSON(val); err != nil {
				return protocol.TypedData{}, err
			}
			return protocol.JSONData(val), nil
		}
		return protocol.StringData(val), nil
	case []byte:
		if native == NativeString {
			return protocol.StringData(string(val)), nil
		}
		return protocol.BytesData(val), nil
	case int:
		return protocol.IntData(int64(val)), nil
	case int32:
		return protocol.IntData(int64(val)), nil
	case int64:
		return protocol.IntData(val), nil
	case float32:
		return protocol.DoubleData(float64(val)), nil
	case float64:
		return protocol.DoubleData(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return protocol.TypedData{}, fmt.Errorf("%w: %T: %v", ErrUnsupportedType, v, err)
		}
		return protocol.JSONData(string(data)), nil
	}
}
