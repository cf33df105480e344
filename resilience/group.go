package resilience

import (
	"slices"
	"sync"
)

// Group lazily creates one breaker per name from a shared template.
type Group struct {
	template CircuitBreakerConfig
	opts     []Option

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a group. template.Name is replaced per breaker.
func NewGroup(template CircuitBreakerConfig, opts ...Option) *Group {
	return &Group{
		template: template,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[name]; ok {
		return cb
	}
	cfg := g.template
	cfg.Name = name
	cb := NewCircuitBreaker(cfg, g.opts...)
	g.breakers[name] = cb
	return cb
}

// Lookup returns the breaker for name without creating it.
func (g *Group) Lookup(name string) (*CircuitBreaker, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[name]
	return cb, ok
}

// Names returns the sorted breaker names.
func (g *Group) Names() []string {
	g.mu.Lock()
	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	g.mu.Unlock()
	slices.Sort(names)
	return names
}

// States returns the state of every breaker.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(g.breakers))
	for name, cb := range g.breakers {
		breakers[name] = cb
	}
	g.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for name, cb := range breakers {
		out[name] = cb.State()
	}
	return out
}
