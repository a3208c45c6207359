package bindings

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oriys/pulsar/internal/protocol"
)

// HTTPRequest is the decoded form of an HTTP binding.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Query   map[string]string
	Body    []byte
}

// JSON unmarshals the request body into v.
func (r *HTTPRequest) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// HTTPResponse is what a function returns through an HTTP out binding.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HTTPCodec decodes requests and encodes responses.
type HTTPCodec struct{}

func (HTTPCodec) Decode(data protocol.TypedData, _ map[string]protocol.TypedData, native NativeType) (any, error) {
	if native != NativeAny {
		return nil, fmt.Errorf("%w: http binding decodes to *HTTPRequest only", ErrUnsupportedType)
	}
	if data.HTTP == nil {
		return nil, fmt.Errorf("%w: expected http data, got %q", ErrUnsupportedType, data.Type())
	}
	h := data.HTTP
	req := &HTTPRequest{
		Method:  h.Method,
		URL:     h.URL,
		Headers: h.Headers,
		Params:  h.Params,
		Query:   h.Query,
	}
	if h.Body != nil {
		body, err := bodyBytes(*h.Body)
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func bodyBytes(d protocol.TypedData) ([]byte, error) {
	switch d.Type() {
	case protocol.DataNone:
		return nil, nil
	case protocol.DataString:
		return []byte(*d.String), nil
	case protocol.DataJSON:
		return []byte(*d.JSON), nil
	case protocol.DataBytes:
		return d.Bytes, nil
	default:
		return nil, fmt.Errorf("%w: http body of type %q", ErrUnsupportedType, d.Type())
	}
}

func (HTTPCodec) Encode(v any, _ NativeType) (protocol.TypedData, error) {
	var resp HTTPResponse
	switch val := v.(type) {
	case *HTTPResponse:
		if val == nil {
			return protocol.TypedData{}, fmt.Errorf("%w: nil *HTTPResponse", ErrUnsupportedType)
		}
		resp = *val
	case HTTPResponse:
		resp = val
	case string:
		resp = HTTPResponse{Body: []byte(val)}
	case []byte:
		resp = HTTPResponse{Body: val}
	default:
		return protocol.TypedData{}, fmt.Errorf("%w: http binding cannot encode %T", ErrUnsupportedType, v)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	body := protocol.BytesData(resp.Body)
	return protocol.HTTPData(&protocol.RpcHTTP{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       &body,
	}), nil
}
