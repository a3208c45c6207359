package protocol

// Status of a handled request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// StatusResult is attached to every response payload.
type StatusResult struct {
	Status    Status        `json:"status"`
	Exception *RpcException `json:"exception,omitempty"`
}

// RpcException is the serialized form of an error. Source names the error
// class; StackTrace is only filled for recovered panics.
type RpcException struct {
	Source     string `json:"source,omitempty"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Success returns a successful StatusResult.
func Success() StatusResult {
	return StatusResult{Status: StatusSuccess}
}

// Failure returns a failed StatusResult carrying exc.
func Failure(exc *RpcException) StatusResult {
	return StatusResult{Status: StatusFailure, Exception: exc}
}

// OK reports whether r is a success.
func (r StatusResult) OK() bool {
	return r.Status == StatusSuccess
}
