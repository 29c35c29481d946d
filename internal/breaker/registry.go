package breaker

import "sync"

// Registry holds one breaker per dependency. Constructed once at process
// start and shared by every workflow.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[Dependency]*Breaker
}

// NewRegistry creates a registry applying cfg to every breaker it mints.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[Dependency]*Breaker),
	}
}

// Get returns the breaker for dep, creating it on first use.
func (r *Registry) Get(dep Dependency) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[dep]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dep]; ok {
		return b
	}
	b = New(dep, r.cfg)
	r.breakers[dep] = b
	return b
}

// Snapshots returns the current state of every breaker for health endpoints.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
