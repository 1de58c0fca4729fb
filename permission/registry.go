package permission

import (
	"errors"
	"fmt"
	"sync"
)

// Registry is the catalog of permission names routes may reference.
// Registration happens at startup; after [Registry.Freeze] it is read-only.
type Registry struct {
	mu     sync.RWMutex
	names  map[string]struct{}
	frozen bool
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds a permission name of the form resource:action.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if name == "" {
		return errors.New("permission name cannot be empty")
	}
	if _, _, ok := Split(name); !ok {
		return fmt.Errorf("permission %q must be resource:action", name)
	}
	if _, exists := r.names[name]; exists {
		return errors.New("permission already registered")
	}
	r.names[name] = struct{}{}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// CheckRequirement rejects requirements referencing unregistered permissions
// or unknown system tiers.
func (r *Registry) CheckRequirement(req Requirement) error {
	if req.MinRole != "" && !req.MinRole.Valid() {
		return fmt.Errorf("unknown system role %q", req.MinRole)
	}
	for _, p := range req.Permissions {
		if !r.Has(p) {
			return fmt.Errorf("permission %q is not registered", p)
		}
	}
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
