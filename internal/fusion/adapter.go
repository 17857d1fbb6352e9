package fusion

import (
	"context"
	"fmt"
)

// Adapter is the uniform contract every retrieval source implements.
//
// Search returns at most k items with dense 1-based ranks in backend
// order. It must return promptly once ctx is done. Errors should be
// classified as timeout, backend-unavailable or invalid-query (see
// errors.Classify); unclassified errors are treated as backend-unavailable.
type Adapter interface {
	Search(ctx context.Context, q Query, k int) ([]RankedItem, error)
}

// AdapterFunc lets a plain function satisfy Adapter.
type AdapterFunc func(ctx context.Context, q Query, k int) ([]RankedItem, error)

// Search calls f.
func (f AdapterFunc) Search(ctx context.Context, q Query, k int) ([]RankedItem, error) {
	return f(ctx, q, k)
}

// Registry maps source names to adapters. Build it before creating an
// Engine; the engine copies it, so later registrations do not affect
// running engines.
type Registry struct {
	adapters map[SourceName]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[SourceName]Adapter)}
}

// Register adds an adapter under name. Registering a name twice is an error.
func (r *Registry) Register(name SourceName, a Adapter) error {
	if !name.Valid() {
		return fmt.Errorf("register adapter: unknown source %q", name)
	}
	if a == nil {
		return fmt.Errorf("register adapter %s: %w", name, ErrNilAdapter)
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("register adapter %s: already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// MustRegister is Register that panics on error. For wiring code only.
func (r *Registry) MustRegister(name SourceName, a Adapter) *Registry {
	if err := r.Register(name, a); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name SourceName) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered sources in canonical order.
func (r *Registry) Names() []SourceName {
	var names []SourceName
	for _, s := range AllSources() {
		if _, ok := r.adapters[s]; ok {
			names = append(names, s)
		}
	}
	return names
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}

func (r *Registry) snapshot() map[SourceName]Adapter {
	m := make(map[SourceName]Adapter, len(r.adapters))
	for k, v := range r.adapters {
		m[k] = v
	}
	return m
}
