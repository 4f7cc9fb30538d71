package gate

import (
	"sync"

	"github.com/workboard/workboard/internal/types"
)

// Registry holds the hook specs by point.
type Registry struct {
	mu    sync.RWMutex
	specs map[types.HookPoint]*types.HookSpec
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[types.HookPoint]*types.HookSpec)}
}

// Replace swaps in a full set of specs.
func (r *Registry) Replace(specs []*types.HookSpec) {
	m := make(map[types.HookPoint]*types.HookSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = m
}

// Get returns the spec for point, or nil if not registered. The returned
// spec must not be modified.
func (r *Registry) Get(point types.HookPoint) *types.HookSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[point]
}
