package protocol

import (
	"encoding/json"
	"testing"
)

func TestStreamingMessageKind(t *testing.T) {
	tests := []struct {
		name string
		msg  *StreamingMessage
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"empty", &StreamingMessage{RequestID: "r"}, KindUnknown},
		{"init", &StreamingMessage{WorkerInitRequest: &WorkerInitRequest{}}, KindWorkerInitRequest},
		{"load", &StreamingMessage{FunctionLoadRequest: &FunctionLoadRequest{}}, KindFunctionLoadRequest},
		{"invoke", &StreamingMessage{InvocationRequest: &InvocationRequest{}}, KindInvocationRequest},
		{"reload", &StreamingMessage{FunctionEnvironmentReloadRequest: &FunctionEnvironmentReloadRequest{}}, KindEnvironmentReloadRequest},
		{"status", &StreamingMessage{WorkerStatusRequest: &WorkerStatusRequest{}}, KindWorkerStatusRequest},
		{"log", &StreamingMessage{RpcLog: &RpcLog{}}, KindRpcLog},
		{"two payloads", &StreamingMessage{
			WorkerInitRequest:   &WorkerInitRequest{},
			WorkerStatusRequest: &WorkerStatusRequest{},
		}, KindUnknown},
	}
	for _, tt := range tests {
		if got := tt.msg.Kind(); got != tt.want {
			t.Fatalf("%s: Kind() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStreamingMessageResult(t *testing.T) {
	msg := &StreamingMessage{
		InvocationResponse: &InvocationResponse{
			InvocationID: "inv",
			Result:       Failure(&RpcException{Message: "boom"}),
		},
	}
	res := msg.Result()
	if res == nil {
		t.Fatal("expected a result for a response message")
	}
	if res.OK() || res.Exception.Message != "boom" {
		t.Fatalf("unexpected result: %+v", res)
	}

	req := &StreamingMessage{WorkerInitRequest: &WorkerInitRequest{}}
	if req.Result() != nil {
		t.Fatal("requests carry no result")
	}
}

func TestInvocationRequestDecode(t *testing.T) {
	raw := `{
		"request_id": "req-1",
		"invocation_request": {
			"invocation_id": "inv-1",
			"function_id": "fn-1",
			"input_data": [{"name": "req", "data": {"http": {"method": "GET", "url": "/x"}}}],
			"trigger_metadata": {"Id": {"string": "m-1"}}
		}
	}`

	var msg StreamingMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Kind() != KindInvocationRequest {
		t.Fatalf("kind = %q", msg.Kind())
	}
	req := msg.InvocationRequest
	if req.InvocationID != "inv-1" || req.FunctionID != "fn-1" {
		t.Fatalf("unexpected ids: %+v", req)
	}
	if len(req.InputData) != 1 || req.InputData[0].Data.Type() != DataHTTP {
		t.Fatalf("unexpected input data: %+v", req.InputData)
	}
	if req.InputData[0].Data.HTTP.Method != "GET" {
		t.Fatalf("method = %q", req.InputData[0].Data.HTTP.Method)
	}
	if id := req.TriggerMetadata["Id"]; id.String == nil || *id.String != "m-1" {
		t.Fatalf("unexpected trigger metadata: %+v", req.TriggerMetadata)
	}
}

func TestTypedDataType(t *testing.T) {
	tests := []struct {
		data TypedData
		want DataType
	}{
		{TypedData{}, DataNone},
		{StringData("x"), DataString},
		{JSONData(`{}`), DataJSON},
		{BytesData(nil), DataBytes},
		{IntData(3), DataInt},
		{DoubleData(1.5), DataDouble},
		{HTTPData(&RpcHTTP{}), DataHTTP},
	}
	for _, tt := range tests {
		if got := tt.data.Type(); got != tt.want {
			t.Fatalf("Type() = %q, want %q", got, tt.want)
		}
	}
}

func TestTypedDataEmptyBytesSurviveJSON(t *testing.T) {
	tests := []struct {
		name string
		in   TypedData
		want DataType
	}{
		{"empty bytes", BytesData([]byte{}), DataBytes},
		{"nil bytes", BytesData(nil), DataBytes},
		{"bytes", BytesData([]byte{0x00, 0xff}), DataBytes},
		{"empty string", StringData(""), DataString},
		{"none", TypedData{}, DataNone},
	}
	for _, tt := range tests {
		wire, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tt.name, err)
		}
		var out TypedData
		if err := json.Unmarshal(wire, &out); err != nil {
			t.Fatalf("%s: unmarshal %s: %v", tt.name, wire, err)
		}
		if out.Type() != tt.want {
			t.Fatalf("%s: wire %s decoded as %q, want %q", tt.name, wire, out.Type(), tt.want)
		}
		if tt.want == DataBytes && string(out.Bytes) != string(tt.in.Bytes) {
			t.Fatalf("%s: bytes = %v, want %v", tt.name, out.Bytes, tt.in.Bytes)
		}
	}
}

func TestInvocationResponseEmptyBytesReturn(t *testing.T) {
	ret := BytesData(nil)
	msg := &StreamingMessage{
		RequestID: "r",
		InvocationResponse: &InvocationResponse{
			InvocationID: "inv",
			ReturnValue:  &ret,
			OutputData:   []ParameterBinding{{Name: "out", Data: BytesData([]byte{})}},
			Result:       Success(),
		},
	}
	wire, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got StreamingMessage
	if err := json.Unmarshal(wire, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := got.InvocationResponse
	if resp.ReturnValue == nil || resp.ReturnValue.Type() != DataBytes {
		t.Fatalf("return value = %+v, want empty bytes", resp.ReturnValue)
	}
	if len(resp.OutputData) != 1 || resp.OutputData[0].Data.Type() != DataBytes {
		t.Fatalf("outputs = %+v, want one empty bytes value", resp.OutputData)
	}
}
