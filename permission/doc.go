// Package permission models the system-role hierarchy, resolved role and
// permission grants, and the legacy requirement expressions attached to
// routes.
//
// # Semantics
//
//   - [SystemRole] ranks SUPERADMIN > ADMIN > MODERATOR > USER.
//   - A [Requirement] is satisfied only when every clause it lists holds (AND).
//   - A list of requirements is satisfied when any one of them is (OR).
//   - Grants from multiple tenant roles are merged by union; there is no
//     deny-overrides rule.
//
// # Architecture boundaries
//
// This package is pure in-memory data with no I/O. Resolution of grants from
// the credential store happens in the engine; this package only evaluates them.
package permission
