package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// ErrAdapterNotFound is returned when a requested adapter is not registered.
type ErrAdapterNotFound struct {
	Name string
}

func (e *ErrAdapterNotFound) Error() string {
	return fmt.Sprintf("adapter %q not found", e.Name)
}

// Registry is a thread-safe registry of issuer adapters keyed by name.
// The set of adapters is fixed at build time; the registry exists so the
// orchestrator dispatches on a name from config instead of a growing
// conditional.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a new empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Duplicate registrations overwrite the
// previous entry.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
	return nil
}

// Get returns an adapter by name, or an error if not found.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, &ErrAdapterNotFound{Name: name}
	}
	return a, nil
}

// Names returns all registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
