package functions

import (
	"fmt"
	"maps"
	"sync"

	"github.com/oriys/pulsar/internal/bindings"
	"github.com/oriys/pulsar/internal/protocol"
)

// Registry maps function ids to loaded functions. Writes happen on Load,
// reads on every Invoke, so lookups only take the read lock.
type Registry struct {
	mu     sync.RWMutex
	fns    map[string]*Info
	codecs *bindings.Registry
}

// NewRegistry creates a registry. When codecs is non-nil, Add rejects
// bindings whose kind has no codec.
func NewRegistry(codecs *bindings.Registry) *Registry {
	return &Registry{
		fns:    make(map[string]*Info),
		codecs: codecs,
	}
}

// Add validates ld against md and registers the result under id. On error
// nothing is registered.
func (r *Registry) Add(id string, md Metadata, ld *Loaded) (*Info, error) {
	if id == "" {
		return nil, fmt.Errorf("function id is required")
	}
	if ld == nil || ld.Func == nil {
		return nil, fmt.Errorf("loader returned no callable")
	}

	info, err := r.build(id, md, ld)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.fns[id]; dup {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.fns[id] = info
	return info, nil
}

func (r *Registry) build(id string, md Metadata, ld *Loaded) (*Info, error) {
	declared := make(map[string]protocol.BindingInfo, len(ld.Bindings)+len(md.Bindings))
	maps.Copy(declared, ld.Bindings)
	maps.Copy(declared, md.Bindings)

	info := &Info{
		ID:              id,
		Name:            md.Name,
		Directory:       md.Directory,
		Func:            ld.Func,
		IsAsync:         ld.IsAsync,
		RequiresContext: ld.RequiresContext,
		InputTypes:      make(map[string]bindings.TypeInfo),
		OutputTypes:     make(map[string]bindings.TypeInfo),
	}

	triggers := 0
	for name, b := range declared {
		if name == "" {
			return nil, fmt.Errorf("binding with empty name")
		}
		if name == bindings.ContextParam && ld.RequiresContext {
			return nil, fmt.Errorf("binding %q clashes with the context parameter", name)
		}
		kind, err := bindings.ParseKind(b.Type)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", name, err)
		}
		if r.codecs != nil && !r.codecs.Has(kind) {
			return nil, fmt.Errorf("binding %q: %w: %s", name, bindings.ErrUnknownBinding, kind)
		}
		native, err := bindings.ParseNativeType(b.DataType)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", name, err)
		}
		ti := bindings.TypeInfo{Kind: kind, Native: native}

		in := b.Direction == protocol.DirectionIn || b.Direction == protocol.DirectionInOut
		out := b.Direction == protocol.DirectionOut || b.Direction == protocol.DirectionInOut
		if !in && !out {
			return nil, fmt.Errorf("binding %q: invalid direction %q", name, b.Direction)
		}
		if out && !kind.AllowsOutput() {
			return nil, fmt.Errorf("binding %q: %s cannot be an output", name, kind)
		}

		if name == bindings.ReturnParam {
			if in {
				return nil, fmt.Errorf("binding %q must be an output", name)
			}
			info.ReturnType = &ti
			continue
		}
		if in {
			if kind.IsTrigger() {
				triggers++
			}
			info.InputTypes[name] = ti
		}
		if out {
			info.OutputTypes[name] = ti
		}
	}
	if triggers > 1 {
		return nil, fmt.Errorf("function declares %d trigger bindings, at most one allowed", triggers)
	}
	return info, nil
}

// Get returns the function registered under id.
func (r *Registry) Get(id string) (*Info, error) {
	r.mu.RLock()
	info, ok := r.fns[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, id)
	}
	return info, nil
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fns)
}
