package breaker

import (
	"sort"
	"sync"
)

// Registry tracks every breaker instance so the administrative surface can
// report per-dependency state.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Register(b *Breaker) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.name] = b
	return b
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Snapshots returns breaker states sorted by dependency name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
