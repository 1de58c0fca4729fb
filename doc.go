// Package authcore is the authentication and session backplane of a
// multi-tenant API platform.
//
// An [Engine] authenticates users, issues short-lived signed access tokens
// paired with opaque rotating refresh tokens, tracks the devices each user is
// signed in from (evicting the oldest once a quota is exceeded), invalidates
// credentials at token, device and user granularity, and decides whether a
// caller may invoke a route within a tenant.
//
// # Construction
//
// Engines are built once at startup:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithStore(pg).
//		WithRoutes(routes).
//		WithEnforcer(enforcer).
//		WithLogger(log).
//		Build()
//
// # Errors
//
// Every error returned to callers unwraps to [ErrUnauthenticated] (respond
// 401) or [ErrForbidden] (respond 403), except [ErrInvalidationFailed] and
// [ErrEngineNotReady], which are server faults. Specific causes such as
// [ErrTokenExpired] or [ErrTenantRequired] can be matched with errors.Is.
//
// # Request scope
//
// Client IP, user agent and correlation id travel in the context
// ([WithClientIP], [WithUserAgent], [WithCorrelationID]); there is no ambient
// per-request state.
package authcore
