package job

import (
	"fmt"
	"sync"
)

// Factory instantiates a job for one execution from its stored detail.
type Factory interface {
	NewJob(detail *Detail) (Job, error)
}

// Registry maps job type names to constructors and doubles as the default
// Factory. A process-wide default exists, but every scheduler accepts an
// override so tests can register types in isolation.
type Registry struct {
	mu    sync.RWMutex
	types map[string]func() Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]func() Job)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register binds a job type name to a constructor. Registering the same name
// twice replaces the previous constructor.
func (r *Registry) Register(jobType string, ctor func() Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[jobType] = ctor
}

// NewJob instantiates a fresh job for the detail's registered type.
func (r *Registry) NewJob(detail *Detail) (Job, error) {
	r.mu.RLock()
	ctor, ok := r.types[detail.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job type %q is not registered", detail.Type)
	}
	return ctor(), nil
}

// Known reports whether a job type has been registered.
func (r *Registry) Known(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[jobType]
	return ok
}
