// Package registry routes stream identifiers to the provider that can
// resolve them.
package registry

import (
	"sync"

	"stream-proxy-go/pkg/providers"
)

// ProviderRegistry manages stream providers. Lookup is first-match in
// registration order; there is no fallback, an unmatched identifier is
// a caller error.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers []providers.Provider
	byName    map[string]providers.Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make([]providers.Provider, 0),
		byName:    make(map[string]providers.Provider),
	}
}

// Register adds a provider to the registry.
func (r *ProviderRegistry) Register(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
}

// Get returns the provider claiming the given stream identifier, or
// nil when none does.
func (r *ProviderRegistry) Get(id string) providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if p.CanResolve(id) {
			return p
		}
	}
	return nil
}

// GetByName returns a provider by its name, or nil.
func (r *ProviderRegistry) GetByName(name string) providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// All returns all registered providers.
func (r *ProviderRegistry) All() []providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]providers.Provider, len(r.providers))
	copy(result, r.providers)
	return result
}
