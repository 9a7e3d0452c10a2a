// Package providers holds the outbound adapters that turn one API call
// into provider traffic, and the mux that routes an adapter key from
// the catalog to the adapter instance.
package providers

import (
	"sort"
	"sync"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/orchestration"
)

// Mux maps catalog adapter keys to adapter instances.
// Registration happens at startup; lookups are concurrent after that.
type Mux struct {
	mu       sync.RWMutex
	adapters map[string]orchestration.Adapter
}

// NewMux creates an empty mux
func NewMux() *Mux {
	return &Mux{adapters: make(map[string]orchestration.Adapter)}
}

// Register binds an adapter key. Re-registering a key replaces it.
func (m *Mux) Register(key string, adapter orchestration.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[key] = adapter
}

// Adapter returns the adapter for a catalog key
func (m *Mux) Adapter(key string) (orchestration.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[key]
	if !ok {
		return nil, &core.AssistantError{
			Op:   "providers.Mux.Adapter",
			Kind: "lookup",
			ID:   key,
			Err:  core.ErrAPINotFound,
		}
	}
	return adapter, nil
}

// Keys returns the registered adapter keys, sorted
func (m *Mux) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.adapters))
	for k := range m.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
