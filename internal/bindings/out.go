package bindings

import "sync"

// Reserved parameter names.
const (
	ContextParam = "context"
	ReturnParam  = "$return"
)

// Out is a write-once placeholder handed to a function for each declared
// output binding. An Out that is never set, or set to nil, produces no
// output.
type Out struct {
	mu    sync.Mutex
	set   bool
	value any
}

// Set stores v. Only the first call succeeds.
func (o *Out) Set(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set {
		return ErrOutAlreadySet
	}
	o.set = true
	o.value = v
	return nil
}

// Get returns the stored value and whether a non-nil value was set.
func (o *Out) Get() (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.set && o.value != nil
}

// Context is bound under ContextParam for functions that ask for it.
type Context struct {
	FunctionName      string
	FunctionDirectory string
	InvocationID      string
}
