package functions

import (
	"context"
	"fmt"
	"sync"
)

// Catalog is a Loader for Go functions compiled into the worker binary.
// Functions are registered under their script file and entry point.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Loaded
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Loaded)}
}

func catalogKey(scriptFile, entryPoint string) string {
	return scriptFile + "#" + entryPoint
}

// Register adds ld under scriptFile and entryPoint.
func (c *Catalog) Register(scriptFile, entryPoint string, ld Loaded) error {
	if ld.Func == nil {
		return fmt.Errorf("catalog: nil func for %s", catalogKey(scriptFile, entryPoint))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(scriptFile, entryPoint)
	if _, dup := c.entries[key]; dup {
		return fmt.Errorf("catalog: %s already registered", key)
	}
	c.entries[key] = ld
	return nil
}

// Load returns a copy of the entry registered for md.
func (c *Catalog) Load(_ context.Context, md Metadata) (*Loaded, error) {
	c.mu.RLock()
	ld, ok := c.entries[catalogKey(md.ScriptFile, md.EntryPoint)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryPointNotFound, md.EntryPoint, md.ScriptFile)
	}
	return &ld, nil
}
