package model

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownProvider is returned when a reference names an unregistered
// provider.
var ErrUnknownProvider = errors.New("unknown model provider")

// Factory builds a Model for a provider-specific model name.
type Factory func(name string) (Model, error)

// Registry maps provider names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the "mock" provider pre-registered.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(MockProvider, func(name string) (Model, error) {
		return NewMockModel(name, MockProvider), nil
	})
	return r
}

// Register adds or replaces the factory for provider.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Resolve parses ref and builds the referenced model.
func (r *Registry) Resolve(ref string) (Model, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	f, ok := r.factories[parsed.Provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, parsed.Provider)
	}

	m, err := f(parsed.Name)
	if err != nil {
		return nil, fmt.Errorf("build model %s: %w", parsed, err)
	}

	return m, nil
}
