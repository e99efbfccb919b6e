package supervisor

import (
	"maps"
	"sync"
)

// Registry is a thread-safe name -> Supervisor map used for health reporting.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]*Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. If sup is nil, it deletes.
func (r *Registry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *Registry) Delete(name string) { r.Set(name, nil) }

// Snapshots returns the current stats of every registered supervisor.
func (r *Registry) Snapshots() map[string]Snapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	cp := maps.Clone(r.m)
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(cp))
	for name, sup := range cp {
		out[name] = sup.Snapshot()
	}
	return out
}
