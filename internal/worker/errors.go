package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/protocol"
)

var (
	ErrNotInitialized = errors.New("worker not initialized")
	ErrUnknownRequest = errors.New("unknown request kind")
	ErrPoolStopped    = errors.New("sync pool stopped")
	// ErrMalformedMessage is wrapped by streams that received a complete
	// message they could not decode. Serve skips such messages.
	ErrMalformedMessage = errors.New("malformed message")
)

// ContractViolation is returned when a function produces a result it has
// no binding for.
type ContractViolation struct {
	FunctionID string
	Result     any
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("function %q returned a %T value but declares no %s binding",
		e.FunctionID, e.Result, bindings.ReturnParam)
}

// EnvironmentError reports an environment variable that could not be set.
type EnvironmentError struct {
	Key string
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("set environment variable %q: %v", e.Key, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered from a handler or a function body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// toException serializes err for the host. Only panics carry a stack.
func toException(err error) *protocol.RpcException {
	exc := &protocol.RpcException{
		Source:  errorSource(err),
		Message: err.Error(),
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		exc.StackTrace = strings.TrimSpace(string(pe.Stack))
	}
	return exc
}

func errorSource(err error) string {
	var (
		pe  *PanicError
		cv  *ContractViolation
		ee  *EnvironmentError
		de  *bindings.DecodeError
		enc *bindings.EncodeError
		le  *functions.LoadError
	)
	switch {
	case errors.As(err, &pe):
		return "Panic"
	case errors.As(err, &cv):
		return "ContractViolation"
	case errors.As(err, &ee):
		return "EnvironmentError"
	case errors.As(err, &le):
		return "LoadError"
	case errors.Is(err, functions.ErrFunctionNotFound):
		return "FunctionNotFound"
	case errors.As(err, &de):
		return "DecodeError"
	case errors.As(err, &enc):
		return "EncodeError"
	case errors.Is(err, bindings.ErrUnknownBinding):
		return "UnknownBinding"
	case errors.Is(err, ErrNotInitialized):
		return "NotInitialized"
	case errors.Is(err, ErrUnknownRequest):
		return "UnknownRequest"
	default:
		return fmt.Sprintf("%T", err)
	}
}

func failure(err error) protocol.StatusResult {
	return protocol.Failure(toException(err))
}
