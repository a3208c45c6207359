// Package protocol defines the envelopes exchanged between the host and the
// worker. Every request carries a request id; the worker answers each
// request with exactly one message bearing the same id.
//
// Envelopes are JSON encoded. A StreamingMessage holds exactly one payload;
// Kind reports which.
package protocol

// Kind tags the payload held by a StreamingMessage.
type Kind string

const (
	KindUnknown                   Kind = "unknown"
	KindStartStream               Kind = "start_stream"
	KindWorkerInitRequest         Kind = "worker_init_request"
	KindWorkerInitResponse        Kind = "worker_init_response"
	KindFunctionLoadRequest       Kind = "function_load_request"
	KindFunctionLoadResponse      Kind = "function_load_response"
	KindInvocationRequest         Kind = "invocation_request"
	KindInvocationResponse        Kind = "invocation_response"
	KindEnvironmentReloadRequest  Kind = "function_environment_reload_request"
	KindEnvironmentReloadResponse Kind = "function_environment_reload_response"
	KindWorkerStatusRequest       Kind = "worker_status_request"
	KindWorkerStatusResponse      Kind = "worker_status_response"
	KindRpcLog                    Kind = "rpc_log"
)

// StreamingMessage is the envelope for every message on the wire.
type StreamingMessage struct {
	RequestID string `json:"request_id"`

	StartStream *StartStream `json:"start_stream,omitempty"`

	WorkerInitRequest  *WorkerInitRequest  `json:"worker_init_request,omitempty"`
	WorkerInitResponse *WorkerInitResponse `json:"worker_init_response,omitempty"`

	FunctionLoadRequest  *FunctionLoadRequest  `json:"function_load_request,omitempty"`
	FunctionLoadResponse *FunctionLoadResponse `json:"function_load_response,omitempty"`

	InvocationRequest  *InvocationRequest  `json:"invocation_request,omitempty"`
	InvocationResponse *InvocationResponse `json:"invocation_response,omitempty"`

	FunctionEnvironmentReloadRequest  *FunctionEnvironmentReloadRequest  `json:"function_environment_reload_request,omitempty"`
	FunctionEnvironmentReloadResponse *FunctionEnvironmentReloadResponse `json:"function_environment_reload_response,omitempty"`

	WorkerStatusRequest  *WorkerStatusRequest  `json:"worker_status_request,omitempty"`
	WorkerStatusResponse *WorkerStatusResponse `json:"worker_status_response,omitempty"`

	RpcLog *RpcLog `json:"rpc_log,omitempty"`
}

// Kind returns the tag of the single payload carried by m. Messages with no
// payload, or with more than one, are KindUnknown.
func (m *StreamingMessage) Kind() Kind {
	if m == nil {
		return KindUnknown
	}
	kind := KindUnknown
	n := 0
	mark := func(set bool, k Kind) {
		if set {
			kind = k
			n++
		}
	}
	mark(m.StartStream != nil, KindStartStream)
	mark(m.WorkerInitRequest != nil, KindWorkerInitRequest)
	mark(m.WorkerInitResponse != nil, KindWorkerInitResponse)
	mark(m.FunctionLoadRequest != nil, KindFunctionLoadRequest)
	mark(m.FunctionLoadResponse != nil, KindFunctionLoadResponse)
	mark(m.InvocationRequest != nil, KindInvocationRequest)
	mark(m.InvocationResponse != nil, KindInvocationResponse)
	mark(m.FunctionEnvironmentReloadRequest != nil, KindEnvironmentReloadRequest)
	mark(m.FunctionEnvironmentReloadResponse != nil, KindEnvironmentReloadResponse)
	mark(m.WorkerStatusRequest != nil, KindWorkerStatusRequest)
	mark(m.WorkerStatusResponse != nil, KindWorkerStatusResponse)
	mark(m.RpcLog != nil, KindRpcLog)
	if n != 1 {
		return KindUnknown
	}
	return kind
}

// Result returns the status carried by a response payload, or nil when m
// is not a response.
func (m *StreamingMessage) Result() *StatusResult {
	switch m.Kind() {
	case KindWorkerInitResponse:
		return &m.WorkerInitResponse.Result
	case KindFunctionLoadResponse:
		return &m.FunctionLoadResponse.Result
	case KindInvocationResponse:
		return &m.InvocationResponse.Result
	case KindEnvironmentReloadResponse:
		return &m.FunctionEnvironmentReloadResponse.Result
	case KindWorkerStatusResponse:
		return &m.WorkerStatusResponse.Result
	default:
		return nil
	}
}

// StartStream is the first message a worker sends after dialing the host.
type StartStream struct {
	WorkerID string `json:"worker_id"`
}

type WorkerInitRequest struct {
	HostVersion  string            `json:"host_version,omitempty"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

type WorkerInitResponse struct {
	WorkerVersion string            `json:"worker_version,omitempty"`
	Capabilities  map[string]string `json:"capabilities,omitempty"`
	Result        StatusResult      `json:"result"`
}

// BindingInfo describes one binding declared by a function.
type BindingInfo struct {
	Type      string    `json:"type"`
	Direction Direction `json:"direction"`
	DataType  string    `json:"data_type,omitempty"`
}

// Direction of a binding relative to the function.
type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionInOut Direction = "inout"
)

// RpcFunctionMetadata identifies the code to load for a function.
type RpcFunctionMetadata struct {
	Name       string                 `json:"name"`
	Directory  string                 `json:"directory"`
	ScriptFile string                 `json:"script_file"`
	EntryPoint string                 `json:"entry_point"`
	Bindings   map[string]BindingInfo `json:"bindings,omitempty"`
}

type FunctionLoadRequest struct {
	FunctionID string              `json:"function_id"`
	Metadata   RpcFunctionMetadata `json:"metadata"`
}

type FunctionLoadResponse struct {
	FunctionID string       `json:"function_id"`
	Result     StatusResult `json:"result"`
}

// ParameterBinding is a named wire value.
type ParameterBinding struct {
	Name string    `json:"name"`
	Data TypedData `json:"data"`
}

// TraceContext carries W3C trace context from the host.
type TraceContext struct {
	TraceParent string            `json:"traceparent,omitempty"`
	TraceState  string            `json:"tracestate,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type InvocationRequest struct {
	InvocationID    string               `json:"invocation_id"`
	FunctionID      string               `json:"function_id"`
	InputData       []ParameterBinding   `json:"input_data,omitempty"`
	TriggerMetadata map[string]TypedData `json:"trigger_metadata,omitempty"`
	TraceContext    *TraceContext        `json:"trace_context,omitempty"`
}

type InvocationResponse struct {
	InvocationID string             `json:"invocation_id"`
	OutputData   []ParameterBinding `json:"output_data,omitempty"`
	ReturnValue  *TypedData         `json:"return_value,omitempty"`
	Result       StatusResult       `json:"result"`
}

type FunctionEnvironmentReloadRequest struct {
	EnvironmentVariables map[string]string `json:"environment_variables"`
	FunctionAppDirectory string            `json:"function_app_directory,omitempty"`
}

type FunctionEnvironmentReloadResponse struct {
	Result StatusResult `json:"result"`
}

type WorkerStatusRequest struct{}

type WorkerStatusResponse struct {
	Result StatusResult `json:"result"`
}

// RpcLog is a log line emitted by the worker on behalf of an invocation.
type RpcLog struct {
	InvocationID string `json:"invocation_id,omitempty"`
	Category     string `json:"category,omitempty"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	Properties   string `json:"properties,omitempty"`
}
