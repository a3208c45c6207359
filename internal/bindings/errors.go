package bindings

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBinding is returned for binding kinds with no codec.
	ErrUnknownBinding = errors.New("unknown binding")
	// ErrUnsupportedType is returned when a codec cannot convert a value
	// to or from the requested representation.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrOutAlreadySet is returned by Out.Set on a second write.
	ErrOutAlreadySet = errors.New("out parameter already set")
)

// DecodeError reports a wire value a codec rejected.
type DecodeError struct {
	Param string
	Kind  Kind
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("decode %s binding %q: %v", e.Kind, e.Param, e.Err)
	}
	return fmt.Sprintf("decode %s binding: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a native value a codec could not put on the wire.
type EncodeError struct {
	Param string
	Kind  Kind
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("encode %s binding %q: %v", e.Kind, e.Param, e.Err)
	}
	return fmt.Sprintf("encode %s binding: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
