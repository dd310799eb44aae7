package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the breakers of one process, one per external service.
// Build it once at startup and pass it to everything that calls out.
type Registry struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(name string, from, to State)

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

type RegistryOption func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithStateListener is called on every breaker state change, with the breaker's lock held.
func WithStateListener(fn func(name string, from, to State)) RegistryOption {
	return func(r *Registry) { r.onChange = fn }
}

func NewRegistry(cfg BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.cfg, r.now, r.onChange)
		r.breakers[name] = b
	}
	return b
}

func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	out := make([]BreakerSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, r.Get(name).Snapshot())
	}
	return out
}

// Reset forgets every breaker.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
