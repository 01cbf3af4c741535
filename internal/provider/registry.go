package provider

import (
	"fmt"
	"sync"
)

// Factory creates a connector instance from configuration.
type Factory func(config map[string]any) (Connector, error)

// Registry holds connector factories indexed by template ID.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given template ID.
// Panics if the template ID is already registered.
func (r *Registry) Register(templateID string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[templateID]; exists {
		panic(fmt.Sprintf("connector factory already registered: %s", templateID))
	}
	r.factories[templateID] = factory
}

// Get returns the factory for the given template ID.
func (r *Registry) Get(templateID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[templateID]
	return factory, ok
}

// List returns all registered template IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// Create instantiates a connector from the given template ID and config.
func (r *Registry) Create(templateID string, config map[string]any) (Connector, error) {
	factory, ok := r.Get(templateID)
	if !ok {
		return nil, fmt.Errorf("unknown connector template: %s", templateID)
	}
	return factory(config)
}

// --- Default Global Registry ---

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global connector registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(templateID string, factory Factory) {
	defaultRegistry.Register(templateID, factory)
}
