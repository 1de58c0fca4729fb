package permission

import (
	"sort"
	"strings"
)

// Name joins a resource and action into the canonical permission name.
func Name(resource, action string) string {
	return resource + ":" + action
}

// Split is the inverse of [Name]. ok is false when name has no separator.
func Split(name string) (resource, action string, ok bool) {
	idx := strings.LastIndexByte(name, ':')
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// Union merges the given name lists, dropping empties and duplicates.
// The result is sorted so that identical grants produce identical claims.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Grants is the authorization snapshot of a caller: system tier plus tenant
// roles and flattened permission names.
type Grants struct {
	SystemRole  SystemRole
	Roles       []string
	Permissions []string

	roleSet map[string]struct{}
	permSet map[string]struct{}
}

// NewGrants indexes roles and permissions for repeated membership checks.
func NewGrants(system SystemRole, roles, permissions []string) Grants {
	g := Grants{
		SystemRole:  system,
		Roles:       roles,
		Permissions: permissions,
		roleSet:     make(map[string]struct{}, len(roles)),
		permSet:     make(map[string]struct{}, len(permissions)),
	}
	for _, r := range roles {
		g.roleSet[r] = struct{}{}
	}
	for _, p := range permissions {
		g.permSet[p] = struct{}{}
	}
	return g
}

// HasRole reports membership of a tenant role or a matching system tier name.
func (g Grants) HasRole(role string) bool {
	if _, ok := g.roleSet[role]; ok {
		return true
	}
	return strings.EqualFold(string(g.SystemRole), role)
}

// HasPermission reports membership of the exact permission name.
func (g Grants) HasPermission(name string) bool {
	_, ok := g.permSet[name]
	return ok
}
