package flows

import (
	"context"

	"github.com/nur2097/template-project-sub000/authz"
)

// AuthorizeFailureKind classifies authorization failures for root-level mapping.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureUnknownRoute
	AuthorizeFailureUnauthenticated
	AuthorizeFailureTenantRequired
	AuthorizeFailureTenantDenied
	AuthorizeFailureDenied
	AuthorizeFailureStrategy
)

// AuthorizeResult carries the decision and everything resolved on the way.
type AuthorizeResult struct {
	Failure   AuthorizeFailureKind
	Validate  ValidateFailureKind
	Err       error
	Route     authz.Route
	Principal *authz.Principal
	Tenant    authz.Tenant
	Decision  authz.Decision
}

// RouteLookup resolves route metadata.
type RouteLookup interface {
	Lookup(key string) (authz.Route, bool)
}

// AuthorizeDeps captures the decision pipeline dependencies.
type AuthorizeDeps struct {
	Routes      RouteLookup
	Validate    ValidateDeps
	Chain       authz.Chain
	MaxTenantID int64
}

// RunAuthorize evaluates, in order: public bypass, authentication, tenant
// resolution, then the decision chain (super-admin gate, elevated bypass,
// policy, legacy requirements).
func RunAuthorize(ctx context.Context, req authz.Request, deps AuthorizeDeps) AuthorizeResult {
	route, ok := deps.Routes.Lookup(req.RouteKey)
	if !ok {
		return AuthorizeResult{Failure: AuthorizeFailureUnknownRoute}
	}
	if route.Public {
		return AuthorizeResult{Route: route, Decision: authz.Decision{Outcome: authz.Allow, Strategy: "public"}}
	}

	v := RunValidate(ctx, req.Bearer, deps.Validate)
	if v.Failure != ValidateFailureNone {
		return AuthorizeResult{Failure: AuthorizeFailureUnauthenticated, Validate: v.Failure, Err: v.Err, Route: route}
	}
	p := v.Principal

	tenant, failure, err := resolveTenant(p, req.TenantParam, deps.MaxTenantID)
	if failure != AuthorizeFailureNone {
		return AuthorizeResult{Failure: failure, Err: err, Route: route, Principal: p}
	}

	decision, err := deps.Chain.Decide(ctx, authz.Evaluation{Route: route, Principal: p, Tenant: tenant})
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureStrategy, Err: err, Route: route, Principal: p, Tenant: tenant}
	}
	if decision.Outcome == authz.Deny {
		return AuthorizeResult{Failure: AuthorizeFailureDenied, Route: route, Principal: p, Tenant: tenant, Decision: decision}
	}
	return AuthorizeResult{Route: route, Principal: p, Tenant: tenant, Decision: decision}
}

// resolveTenant binds the request to a tenant. Non-elevated callers are pinned
// to their own company; an explicit parameter must match it. Elevated callers
// may target any well-formed tenant id or run in global mode.
func resolveTenant(p *authz.Principal, param string, max int64) (authz.Tenant, AuthorizeFailureKind, error) {
	if p.Elevated() {
		if param != "" {
			id, err := authz.ParseTenantParam(param, max)
			if err != nil {
				return authz.Tenant{}, AuthorizeFailureTenantDenied, err
			}
			return authz.Tenant{ID: &id}, AuthorizeFailureNone, nil
		}
		if p.CompanyID != nil {
			id := *p.CompanyID
			return authz.Tenant{ID: &id}, AuthorizeFailureNone, nil
		}
		return authz.Tenant{Global: true}, AuthorizeFailureNone, nil
	}

	if p.CompanyID == nil || *p.CompanyID <= 0 {
		return authz.Tenant{}, AuthorizeFailureTenantRequired, nil
	}
	if param != "" {
		id, err := authz.ParseTenantParam(param, max)
		if err != nil {
			return authz.Tenant{}, AuthorizeFailureTenantDenied, err
		}
		if id != *p.CompanyID {
			return authz.Tenant{}, AuthorizeFailureTenantDenied, nil
		}
	}
	id := *p.CompanyID
	return authz.Tenant{ID: &id}, AuthorizeFailureNone, nil
}
