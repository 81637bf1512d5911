package engine

import (
	"fmt"
	"sort"
)

// Factory builds an engine from string options (paths, licence server, etc.).
type Factory func(opts map[string]string) (Engine, error)

// Registry maps engine names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Get(name string, opts map[string]string) (Engine, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
	return f(opts)
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
