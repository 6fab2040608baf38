package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a concurrency-safe, name-indexed collection of definitions.
// The runtime keeps one for Pipe types and one for Action types.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

// Register adds a definition to the registry.
// If a definition with the same name exists, it is overwritten.
func (r *Registry[T]) Register(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = item
}

// Lookup returns the definition registered under name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// MustLookup is Lookup returning an error for unknown names.
func (r *Registry[T]) MustLookup(name string) (T, error) {
	item, ok := r.Lookup(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("not registered: %s", name)
	}
	return item, nil
}

// Names returns every registered name, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered definitions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
