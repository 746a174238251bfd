package providers

import (
	"fmt"
	"sort"
)

// Factory builds a provider on first use, so providers whose credentials are
// absent can still be listed.
type Factory func() (Provider, error)

type Registry struct {
	providers map[string]Provider
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}, factories: map[string]Factory{}}
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// RegisterFactory registers name without building it.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Get(name string) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	seen := make(map[string]bool, len(r.providers)+len(r.factories))
	for n := range r.providers {
		seen[n] = true
	}
	for n := range r.factories {
		seen[n] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
