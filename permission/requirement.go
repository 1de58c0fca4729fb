package permission

// Requirement is one declared access condition. Every non-empty clause must
// hold for the requirement to be satisfied.
type Requirement struct {
	// MinRole, when set, requires the caller's system tier to be at least this.
	MinRole SystemRole
	// Roles lists tenant roles (or system tier names) that must all be held.
	Roles []string
	// Permissions lists permission names that must all be held.
	Permissions []string
}

// Empty reports whether r declares no clause.
func (r Requirement) Empty() bool {
	return r.MinRole == "" && len(r.Roles) == 0 && len(r.Permissions) == 0
}

// SatisfiedBy evaluates r against g.
func (r Requirement) SatisfiedBy(g Grants) bool {
	if r.MinRole != "" && !g.SystemRole.AtLeast(r.MinRole) {
		return false
	}
	for _, role := range r.Roles {
		if !g.HasRole(role) {
			return false
		}
	}
	for _, perm := range r.Permissions {
		if !g.HasPermission(perm) {
			return false
		}
	}
	return true
}

// AnySatisfied reports whether at least one requirement holds. An empty list
// is trivially satisfied.
func AnySatisfied(reqs []Requirement, g Grants) bool {
	if len(reqs) == 0 {
		return true
	}
	for _, r := range reqs {
		if r.SatisfiedBy(g) {
			return true
		}
	}
	return false
}

// RequireAll builds a requirement that needs every listed permission.
func RequireAll(permissions ...string) Requirement {
	return Requirement{Permissions: permissions}
}

// RequireRoles builds a requirement that needs every listed role.
func RequireRoles(roles ...string) Requirement {
	return Requirement{Roles: roles}
}

// RequireTier builds a requirement on the system tier only.
func RequireTier(min SystemRole) Requirement {
	return Requirement{MinRole: min}
}
