package authcore

import "errors"

var (
	// ErrUnauthenticated is the category of every 401 outcome.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is the category of every 403 outcome.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials error = &authError{"invalid credentials", ErrUnauthenticated}
	// ErrLoginThrottled is returned once the failed-login budget is exhausted.
	ErrLoginThrottled error = &authError{"too many login attempts", ErrUnauthenticated}
	// ErrAccountNotActive is returned when the user or their company is not active.
	ErrAccountNotActive error = &authError{"account not active", ErrUnauthenticated}
	// ErrTokenMissing is returned when no access token was presented.
	ErrTokenMissing error = &authError{"access token missing", ErrUnauthenticated}
	// ErrTokenInvalid is returned for a bad signature, claim set or algorithm.
	ErrTokenInvalid error = &authError{"access token invalid", ErrUnauthenticated}
	// ErrTokenExpired is returned when the access token is past exp.
	ErrTokenExpired error = &authError{"access token expired", ErrUnauthenticated}
	// ErrTokenBlacklisted is returned when the token, its device or its user was invalidated.
	ErrTokenBlacklisted error = &authError{"access token revoked", ErrUnauthenticated}
	// ErrRefreshTokenNotFound covers unknown, already rotated, revoked and
	// expired refresh tokens alike.
	ErrRefreshTokenNotFound error = &authError{"refresh token not found", ErrUnauthenticated}

	// ErrTenantRequired is returned when a non-elevated caller has no company.
	ErrTenantRequired error = &authError{"tenant required", ErrForbidden}
	// ErrTenantAccessDenied is returned for a foreign or malformed tenant parameter.
	ErrTenantAccessDenied error = &authError{"tenant access denied", ErrForbidden}
	// ErrPolicyDenied is returned when the policy engine rejects the route's resource/action.
	ErrPolicyDenied error = &authError{"policy denied", ErrForbidden}
	// ErrRequirementUnmet is returned when no role/permission requirement is satisfied.
	ErrRequirementUnmet error = &authError{"insufficient permissions", ErrForbidden}
	// ErrSuperAdminRequired is returned for super-admin-only routes.
	ErrSuperAdminRequired error = &authError{"super admin required", ErrForbidden}
	// ErrRouteUnknown is returned for route keys absent from the table.
	ErrRouteUnknown error = &authError{"route not registered", ErrForbidden}

	// ErrInvalidationFailed is returned when a mass revocation could not be
	// written. Callers must treat the revocation as not having happened.
	ErrInvalidationFailed = errors.New("invalidation failed")
	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// authError is a taxonomy error that also matches its category.
type authError struct {
	msg      string
	category error
}

func (e *authError) Error() string { return e.msg }

func (e *authError) Unwrap() error { return e.category }

// StatusCode maps err to the HTTP status a transport should answer with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrLoginThrottled):
		return 429
	case errors.Is(err, ErrUnauthenticated):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	default:
		return 500
	}
}
