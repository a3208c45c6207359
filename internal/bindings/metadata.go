package bindings

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oriys/pulsar/internal/protocol"
)

// Trigger metadata values arrive either as plain strings or as JSON
// documents (a quoted string, a number). These helpers accept both.

func metaString(meta map[string]protocol.TypedData, key string) string {
	d, ok := meta[key]
	if !ok {
		return ""
	}
	switch d.Type() {
	case protocol.DataString:
		return *d.String
	case protocol.DataJSON:
		var s string
		if err := json.Unmarshal([]byte(*d.JSON), &s); err == nil {
			return s
		}
		return *d.JSON
	case protocol.DataInt:
		return strconv.FormatInt(*d.Int, 10)
	}
	return ""
}

func metaInt(meta map[string]protocol.TypedData, key string) int64 {
	if d, ok := meta[key]; ok && d.Int != nil {
		return *d.Int
	}
	n, _ := strconv.ParseInt(metaString(meta, key), 10, 64)
	return n
}

func metaTime(meta map[string]protocol.TypedData, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, metaString(meta, key))
	return t
}

// payload returns the raw bytes of a string, JSON or bytes value.
func payload(d protocol.TypedData) ([]byte, bool) {
	switch d.Type() {
	case protocol.DataString:
		return []byte(*d.String), true
	case protocol.DataJSON:
		return []byte(*d.JSON), true
	case protocol.DataBytes:
		return d.Bytes, true
	}
	return nil, false
}

// encodePayload is the inverse of payload for a recorded wire type.
func encodePayload(b []byte, wire protocol.DataType) protocol.TypedData {
	switch wire {
	case protocol.DataString:
		return protocol.StringData(string(b))
	case protocol.DataJSON:
		return protocol.JSONData(string(b))
	}
	return protocol.BytesData(b)
}
