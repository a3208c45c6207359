// Package functions holds loaded functions and the loaders that produce them.
//
// A Loader turns function metadata (name, directory, script file, entry
// point) into a callable plus its binding declarations. The Registry turns
// that into an immutable Info and publishes it under the function id. An Info
// is fully built before it becomes visible, so readers never observe a
// partially registered function.
package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/protocol"
)

// Func is the shape of every callable. args maps parameter names to decoded
// inputs, *bindings.Out placeholders and, when requested, *bindings.Context.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Metadata identifies the code behind a function.
type Metadata struct {
	Name       string
	Directory  string
	ScriptFile string
	EntryPoint string
	Bindings   map[string]protocol.BindingInfo
}

// MetadataFromProto converts the wire form of function metadata.
func MetadataFromProto(md protocol.RpcFunctionMetadata) Metadata {
	return Metadata{
		Name:       md.Name,
		Directory:  md.Directory,
		ScriptFile: md.ScriptFile,
		EntryPoint: md.EntryPoint,
		Bindings:   md.Bindings,
	}
}

// Loaded is what a Loader returns.
type Loaded struct {
	Func Func
	// IsAsync marks functions that cooperate with cancellation and never
	// block; they run on the invocation goroutine. Others run on the
	// worker's sync pool.
	IsAsync         bool
	RequiresContext bool
	// Bindings declared by the code itself. Bindings in the load request
	// take precedence.
	Bindings map[string]protocol.BindingInfo
}

// Info describes a registered function. It is immutable once registered.
type Info struct {
	ID              string
	Name            string
	Directory       string
	Func            Func
	IsAsync         bool
	RequiresContext bool
	InputTypes      map[string]bindings.TypeInfo
	OutputTypes     map[string]bindings.TypeInfo
	ReturnType      *bindings.TypeInfo
}

// HasReturn reports whether the function declares a $return binding.
func (i *Info) HasReturn() bool {
	return i.ReturnType != nil
}

// Loader produces callables from function metadata.
type Loader interface {
	Load(ctx context.Context, md Metadata) (*Loaded, error)
}

var (
	ErrFunctionNotFound   = errors.New("function not found")
	ErrAlreadyRegistered  = errors.New("function already registered")
	ErrEntryPointNotFound = errors.New("entry point not found")
)

// LoadError reports a failed Load, whether the loader or the registry
// rejected the function.
type LoadError struct {
	FunctionID string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load function %q: %v", e.FunctionID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
