package papersources

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured paper sources keyed by Name. Lookups for
// unknown names fail loudly; the set of sources is closed at startup and is
// part of the service's public API surface.
//
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]PaperSource
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]PaperSource),
	}
}

// Register adds a source under its Name, replacing any previous registration.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Name()] = source
}

// Get returns the source registered under name, or an error naming the
// supported sources when the name is unknown.
func (r *Registry) Get(name string) (PaperSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown paper source %q (supported: %v)", name, r.namesLocked())
	}
	return source, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
