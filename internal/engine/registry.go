package engine

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"taskweave/internal/core"
)

// Registry holds the registered task types and the per-invocation wrappers.
//
// Type registration is process-wide and append-only; wrappers are created
// lazily, keyed by qualified task name, and reset between top-level run
// invocations. The Registry doubles as the analyzer's Resolver.
type Registry struct {
	mu       sync.Mutex
	types    map[string]*core.Descriptor   // qualified name -> descriptor
	short    map[string][]*core.Descriptor // bare name -> descriptors
	wrappers map[string]*Wrapper

	// trigger is injected by the facade and handed to every wrapper.
	trigger func(*core.Descriptor) error
}

func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]*core.Descriptor),
		short:    make(map[string][]*core.Descriptor),
		wrappers: make(map[string]*Wrapper),
	}
}

// SetTrigger installs the execution trigger used by wrapper export
// accessors.
func (r *Registry) SetTrigger(trigger func(*core.Descriptor) error) {
	r.mu.Lock()
	r.trigger = trigger
	r.mu.Unlock()
}

// RegisterType records a task type. Registering the same type twice is a
// no-op; registering a different type under an existing name is an error.
func (r *Registry) RegisterType(d *core.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.QualifiedName()
	if existing, ok := r.types[name]; ok {
		if existing.Type == d.Type {
			return nil
		}
		return errors.Errorf("task name %s already registered", name)
	}
	r.types[name] = d
	r.short[d.Name] = append(r.short[d.Name], d)
	return nil
}

// Describe returns the descriptor for a prototype, registering its type on
// first sight.
func (r *Registry) Describe(proto core.Task) (*core.Descriptor, error) {
	d, err := core.Describe(proto)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if existing, ok := r.types[d.QualifiedName()]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()
	if err := r.RegisterType(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup implements analyzer.Resolver.
func (r *Registry) Lookup(qualified string) (*core.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.types[qualified]
	return d, ok
}

// LookupShort implements analyzer.Resolver: a bare name resolves only when
// it is unambiguous across the registry.
func (r *Registry) LookupShort(name string) (*core.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds := r.short[name]
	if len(ds) != 1 {
		return nil, false
	}
	return ds[0], true
}

// Wrapper returns the wrapper for a task type, creating it on first sight.
func (r *Registry) Wrapper(d *core.Descriptor) *Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.QualifiedName()
	if w, ok := r.wrappers[name]; ok {
		return w
	}
	w := NewWrapper(d, r.trigger)
	r.wrappers[name] = w
	return w
}

// ExistingWrapper returns the wrapper for name without creating one.
func (r *Registry) ExistingWrapper(name string) (*Wrapper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wrappers[name]
	return w, ok
}

// Wrappers returns every live wrapper in name order.
func (r *Registry) Wrappers() []*Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.wrappers))
	for name := range r.wrappers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Wrapper, len(names))
	for i, name := range names {
		out[i] = r.wrappers[name]
	}
	return out
}

// ResetWrappers drops every wrapper; the next invocation starts fresh.
func (r *Registry) ResetWrappers() {
	r.mu.Lock()
	r.wrappers = make(map[string]*Wrapper)
	r.mu.Unlock()
}

// ResetWrapper drops the wrapper of one task type.
func (r *Registry) ResetWrapper(name string) {
	r.mu.Lock()
	delete(r.wrappers, name)
	r.mu.Unlock()
}
