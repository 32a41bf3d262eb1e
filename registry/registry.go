// Package registry tracks the engines of the charge points currently
// connected to this process.
package registry

import (
	"sort"
	"sync"

	"github.com/ggoodman/ocpp-server-go/engine"
)

// Registry maps charge point ids to their live engine. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*engine.Engine
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{engines: make(map[string]*engine.Engine)}
}

// Put stores e under cpid and returns the engine it replaced, if any.
func (r *Registry) Put(cpid string, e *engine.Engine) *engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.engines[cpid]
	r.engines[cpid] = e
	return prev
}

// Get returns the engine for cpid.
func (r *Registry) Get(cpid string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[cpid]
	return e, ok
}

// Delete removes cpid only while it still maps to e, so the close of a
// replaced connection does not evict its successor. It reports whether an
// entry was removed.
func (r *Registry) Delete(cpid string, e *engine.Engine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.engines[cpid]; ok && cur == e {
		delete(r.engines, cpid)
		return true
	}
	return false
}

// List returns the connected charge point ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of connected charge points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
