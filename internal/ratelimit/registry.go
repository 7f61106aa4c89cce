package ratelimit

import (
	"fmt"
	"sort"
)

// Names of the limiters every deployment configures.
const (
	Auth    = "auth"
	API     = "api"
	Tickets = "tickets"
)

// RequiredLimiters lists the limiter names that must be configured.
var RequiredLimiters = []string{Auth, API, Tickets}

// Factory builds one limiter for a named configuration.
type Factory func(name string, cfg Config) (Limiter, error)

// MemoryFactory builds independent in-memory FixedWindow limiters.
func MemoryFactory(opts ...Option) Factory {
	return func(_ string, cfg Config) (Limiter, error) {
		return NewFixedWindow(cfg, opts...)
	}
}

// Registry holds independently configured limiters by name.
type Registry struct {
	limiters map[string]Limiter
}

// NewRegistry builds one limiter per entry of configs. Every name in
// RequiredLimiters must be present.
func NewRegistry(configs map[string]Config, factory Factory) (*Registry, error) {
	for _, name := range RequiredLimiters {
		if _, ok := configs[name]; !ok {
			return nil, fmt.Errorf("ratelimit: missing %q limiter configuration", name)
		}
	}
	r := &Registry{limiters: make(map[string]Limiter, len(configs))}
	for name, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		l, err := factory(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: build %q: %w", name, err)
		}
		r.limiters[name] = l
	}
	return r, nil
}

// Get returns the limiter registered under name.
func (r *Registry) Get(name string) (Limiter, bool) {
	if r == nil {
		return nil, false
	}
	l, ok := r.limiters[name]
	return l, ok
}

// MustGet is Get for names validated at construction.
func (r *Registry) MustGet(name string) Limiter {
	l, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("ratelimit: limiter %q not registered", name))
	}
	return l
}

// Names returns registered limiter names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.limiters))
	for n := range r.limiters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
