package authz

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nur2097/template-project-sub000/permission"
)

// PolicyRef names the (resource, action) pair checked against the policy engine.
type PolicyRef struct {
	Resource string
	Action   string
}

// Route is the authorization metadata of one endpoint.
type Route struct {
	// Public routes skip every check, authentication included.
	Public bool
	// RequireSuperAdmin restricts the route to the top system tier.
	RequireSuperAdmin bool
	// Policy, when set, is checked against the policy engine and a denial is final.
	Policy *PolicyRef
	// Requirements apply only when Policy is nil. Any one must hold.
	Requirements []permission.Requirement
}

// Table maps route keys such as "GET /users/:id" to their metadata. It is
// filled at startup and read concurrently afterwards.
type Table struct {
	mu      sync.RWMutex
	routes  map[string]Route
	catalog *permission.Registry
	frozen  bool
}

// NewTable returns an empty table. catalog, when non-nil, validates the
// permissions named by route requirements.
func NewTable(catalog *permission.Registry) *Table {
	return &Table{routes: make(map[string]Route), catalog: catalog}
}

// Key builds the canonical route key.
func Key(method, pattern string) string {
	return strings.ToUpper(method) + " " + pattern
}

// Register adds key. Registering the same key twice is an error.
func (t *Table) Register(key string, r Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return errors.New("route table frozen")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("route key required")
	}
	if _, exists := t.routes[key]; exists {
		return fmt.Errorf("route %q already registered", key)
	}
	if r.Public && (r.RequireSuperAdmin || r.Policy != nil || len(r.Requirements) > 0) {
		return fmt.Errorf("route %q: public routes cannot declare checks", key)
	}
	if r.Policy != nil && (r.Policy.Resource == "" || r.Policy.Action == "") {
		return fmt.Errorf("route %q: policy needs resource and action", key)
	}
	if t.catalog != nil {
		for _, req := range r.Requirements {
			if err := t.catalog.CheckRequirement(req); err != nil {
				return fmt.Errorf("route %q: %w", key, err)
			}
		}
	}
	t.routes[key] = r
	return nil
}

// MustRegister is Register that panics, for static startup tables.
func (t *Table) MustRegister(key string, r Route) {
	if err := t.Register(key, r); err != nil {
		panic(err)
	}
}

// Freeze prevents further registrations.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Lookup returns the metadata for key.
func (t *Table) Lookup(key string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[key]
	return r, ok
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
