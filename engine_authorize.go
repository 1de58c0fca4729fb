package authcore

import (
	"context"
	"fmt"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/internal/flows"
)

// Validate checks an access token's signature, expiry and every blacklist
// granularity, and returns the principal it describes.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*authz.Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.Validate(ctx, accessToken)
	if res.Failure != flows.ValidateFailureNone {
		if res.Err != nil {
			e.log.Debug().Err(res.Err).Msg("access token rejected")
		}
		return nil, validateError(res.Failure)
	}
	return res.Principal, nil
}

// Authorize runs the decision pipeline for one request: route lookup, public
// bypass, token validation, tenant resolution, then the decision chain.
// Failures unwrap to ErrUnauthenticated or ErrForbidden.
func (e *Engine) Authorize(ctx context.Context, req authz.Request) (*AuthorizeResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, req.CorrelationID)
	}

	res := e.flows.Authorize(ctx, req)
	err := e.authorizeError(res)
	e.metrics.Authorize.WithLabelValues(decisionLabel(res, err)).Inc()
	if err != nil {
		return nil, err
	}
	return &AuthorizeResult{
		Route:     res.Route,
		Principal: res.Principal,
		Tenant:    res.Tenant,
		Decision:  res.Decision,
	}, nil
}

func (e *Engine) authorizeError(res flows.AuthorizeResult) error {
	switch res.Failure {
	case flows.AuthorizeFailureNone:
		return nil
	case flows.AuthorizeFailureUnknownRoute:
		return ErrRouteUnknown
	case flows.AuthorizeFailureUnauthenticated:
		return validateError(res.Validate)
	case flows.AuthorizeFailureTenantRequired:
		return ErrTenantRequired
	case flows.AuthorizeFailureTenantDenied:
		return ErrTenantAccessDenied
	case flows.AuthorizeFailureDenied:
		switch res.Decision.Reason {
		case authz.ReasonSuperAdminRequired:
			return ErrSuperAdminRequired
		case authz.ReasonPolicyDenied:
			return ErrPolicyDenied
		default:
			return ErrRequirementUnmet
		}
	default:
		e.log.Error().Err(res.Err).Msg("authorization strategy failed")
		return fmt.Errorf("authorize: %w", res.Err)
	}
}

func decisionLabel(res flows.AuthorizeResult, err error) string {
	switch {
	case err == nil && res.Route.Public:
		return "public"
	case err == nil:
		return "allow"
	case res.Failure == flows.AuthorizeFailureUnauthenticated:
		return "unauthenticated"
	case res.Failure == flows.AuthorizeFailureStrategy:
		return "error"
	default:
		return "deny"
	}
}
