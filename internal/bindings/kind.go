package bindings

import (
	"fmt"
	"strings"
)

// Kind enumerates the binding types the worker understands.
type Kind int

const (
	KindGeneric Kind = iota
	KindHTTPTrigger
	KindHTTP
	KindQueueTrigger
	KindQueue
	KindBlobTrigger
	KindBlob
	KindTimerTrigger
)

var kindNames = map[Kind]string{
	KindGeneric:      "generic",
	KindHTTPTrigger:  "httpTrigger",
	KindHTTP:         "http",
	KindQueueTrigger: "queueTrigger",
	KindQueue:        "queue",
	KindBlobTrigger:  "blobTrigger",
	KindBlob:         "blob",
	KindTimerTrigger: "timerTrigger",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a binding type name, as found in function metadata, to a
// Kind. Matching is case-insensitive.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBinding, name)
}

// IsTrigger reports whether k is the binding that starts an invocation.
// Only trigger bindings receive trigger metadata when decoded.
func (k Kind) IsTrigger() bool {
	switch k {
	case KindHTTPTrigger, KindQueueTrigger, KindBlobTrigger, KindTimerTrigger:
		return true
	}
	return false
}

// AllowsOutput reports whether k may be declared as an out binding.
func (k Kind) AllowsOutput() bool {
	return !k.IsTrigger()
}

// NativeType selects the Go representation a binding decodes to.
type NativeType int

const (
	NativeAny NativeType = iota // the binding's own model type
	NativeString
	NativeBytes
	NativeJSON
	NativeInt
	NativeDouble
)

func (n NativeType) String() string {
	switch n {
	case NativeString:
		return "string"
	case NativeBytes:
		return "bytes"
	case NativeJSON:
		return "json"
	case NativeInt:
		return "int"
	case NativeDouble:
		return "double"
	default:
		return "any"
	}
}

// ParseNativeType parses a binding's data type. An empty name is NativeAny.
func ParseNativeType(name string) (NativeType, error) {
	switch strings.ToLower(name) {
	case "", "any":
		return NativeAny, nil
	case "string":
		return NativeString, nil
	case "binary", "bytes", "stream":
		return NativeBytes, nil
	case "json":
		return NativeJSON, nil
	case "int", "int64":
		return NativeInt, nil
	case "double", "float", "float64":
		return NativeDouble, nil
	default:
		return 0, fmt.Errorf("%w: data type %q", ErrUnsupportedType, name)
	}
}

// TypeInfo identifies the codec and native representation of one parameter
// or return value.
type TypeInfo struct {
	Kind   Kind
	Native NativeType
}
