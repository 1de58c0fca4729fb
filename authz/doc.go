// Package authz holds the declarative pieces of the per-request authorization
// pipeline: the route metadata table, the request scope, the resolved
// principal and tenant, and the ordered chain of decision strategies.
//
// Each strategy returns a [Decision] that is Allow, Deny or NotApplicable. The
// [Chain] runs strategies in order and stops at the first result that is not
// NotApplicable; if every strategy abstains the request is allowed.
package authz
