// Package bindings converts between wire values (protocol.TypedData) and the
// Go values handed to functions.
//
// Codecs are selected by binding Kind through a Registry. A registry rejects
// kinds it has no codec for with ErrUnknownBinding; it never falls back to a
// pass-through.
package bindings

import (
	"fmt"
	"sync"

	"github.com/oriys/pulsar/internal/protocol"
)

// Codec converts values of one binding kind.
//
// meta is the invocation's trigger metadata; it is nil for every binding
// that is not the trigger.
type Codec interface {
	Decode(data protocol.TypedData, meta map[string]protocol.TypedData, native NativeType) (any, error)
	Encode(v any, native NativeType) (protocol.TypedData, error)
}

// Registry maps binding kinds to codecs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[Kind]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Kind]Codec)}
}

// DefaultRegistry returns a registry with the built-in codecs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindGeneric, GenericCodec{})
	r.MustRegister(KindHTTPTrigger, HTTPCodec{})
	r.MustRegister(KindHTTP, HTTPCodec{})
	r.MustRegister(KindQueueTrigger, QueueCodec{})
	r.MustRegister(KindQueue, QueueCodec{})
	r.MustRegister(KindBlobTrigger, BlobCodec{})
	r.MustRegister(KindBlob, BlobCodec{})
	r.MustRegister(KindTimerTrigger, TimerCodec{})
	return r
}

// Register binds c to k. Registering a kind twice is an error.
func (r *Registry) Register(k Kind, c Codec) error {
	if c == nil {
		return fmt.Errorf("bindings: nil codec for %s", k)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.codecs[k]; dup {
		return fmt.Errorf("bindings: codec for %s already registered", k)
	}
	r.codecs[k] = c
	return nil
}

func (r *Registry) MustRegister(k Kind, c Codec) {
	if err := r.Register(k, c); err != nil {
		panic(err)
	}
}

// Has reports whether a codec is registered for k.
func (r *Registry) Has(k Kind) bool {
	_, err := r.lookup(k)
	return err == nil
}

func (r *Registry) lookup(k Kind) (Codec, error) {
	r.mu.RLock()
	c, ok := r.codecs[k]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBinding, k)
	}
	return c, nil
}

// Decode converts a wire value for the parameter described by info.
func (r *Registry) Decode(info TypeInfo, data protocol.TypedData, meta map[string]protocol.TypedData) (any, error) {
	c, err := r.lookup(info.Kind)
	if err != nil {
		return nil, err
	}
	v, err := c.Decode(data, meta, info.Native)
	if err != nil {
		return nil, &DecodeError{Kind: info.Kind, Err: err}
	}
	return v, nil
}

// Encode converts a native value for the binding described by info.
func (r *Registry) Encode(info TypeInfo, v any) (protocol.TypedData, error) {
	c, err := r.lookup(info.Kind)
	if err != nil {
		return protocol.TypedData{}, err
	}
	data, err := c.Encode(v, info.Native)
	if err != nil {
		return protocol.TypedData{}, &EncodeError{Kind: info.Kind, Err: err}
	}
	return data, nil
}
