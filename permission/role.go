package permission

import (
	"fmt"
	"strings"
)

// SystemRole is the platform-wide tier of a user, independent of tenant roles.
type SystemRole string

const (
	// RoleSuperAdmin is the top tier. It bypasses tenant isolation and policy checks.
	RoleSuperAdmin SystemRole = "SUPERADMIN"
	// RoleAdmin administers a single tenant.
	RoleAdmin SystemRole = "ADMIN"
	// RoleModerator is a privileged tenant member.
	RoleModerator SystemRole = "MODERATOR"
	// RoleUser is the default tier.
	RoleUser SystemRole = "USER"
)

var roleRank = map[SystemRole]int{
	RoleUser:       1,
	RoleModerator:  2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// ParseSystemRole normalizes raw and rejects unknown tiers.
func ParseSystemRole(raw string) (SystemRole, error) {
	role := SystemRole(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("unknown system role %q", raw)
	}
	return role, nil
}

// Valid reports whether r is one of the known tiers.
func (r SystemRole) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the position of r in the hierarchy; unknown roles rank 0.
func (r SystemRole) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r is the same tier as min or above it.
func (r SystemRole) AtLeast(min SystemRole) bool {
	if !r.Valid() {
		return false
	}
	return r.Rank() >= min.Rank()
}

// IsElevated reports whether r is the top tier.
func (r SystemRole) IsElevated() bool {
	return r == RoleSuperAdmin
}

func (r SystemRole) String() string {
	return string(r)
}
