package cog

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps cog identifiers to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds factory under id. Identifiers are unique.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("cog identifier is required")
	}
	if factory == nil {
		return fmt.Errorf("cog %s has no factory", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("cog %s is already registered", id)
	}
	r.factories[id] = factory
	return nil
}

func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
