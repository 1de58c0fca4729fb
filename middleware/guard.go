package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	authcore "github.com/nur2097/template-project-sub000"
	"github.com/nur2097/template-project-sub000/authz"
)

// Authorizer is the engine surface used by Guard.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) (*authcore.AuthorizeResult, error)
}

// TenantHeader is the default source of the explicit tenant parameter.
const TenantHeader = "X-Company-ID"

type resultContextKey struct{}

// ResultFromContext returns the authorization outcome stored by Guard.
func ResultFromContext(ctx context.Context) (*authcore.AuthorizeResult, bool) {
	res, ok := ctx.Value(resultContextKey{}).(*authcore.AuthorizeResult)
	return res, ok
}

// PrincipalFromContext returns the authenticated caller. It is absent on
// public routes.
func PrincipalFromContext(ctx context.Context) (*authz.Principal, bool) {
	res, ok := ResultFromContext(ctx)
	if !ok || res.Principal == nil {
		return nil, false
	}
	return res.Principal, true
}

// TenantFromContext returns the tenant the request was bound to.
func TenantFromContext(ctx context.Context) (authz.Tenant, bool) {
	res, ok := ResultFromContext(ctx)
	if !ok {
		return authz.Tenant{}, false
	}
	return res.Tenant, true
}

// GuardOption customizes Guard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	tenant func(*http.Request) string
}

// WithTenantFunc overrides how the explicit tenant parameter is read.
func WithTenantFunc(fn func(*http.Request) string) GuardOption {
	return func(c *guardConfig) { c.tenant = fn }
}

// Guard authorizes every request against the route registered under
// method and pattern. Denials are written with WriteError.
func Guard(engine Authorizer, method, pattern string, opts ...GuardOption) func(http.Handler) http.Handler {
	cfg := guardConfig{
		tenant: func(r *http.Request) string { return r.Header.Get(TenantHeader) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	key := authz.Key(method, pattern)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			res, err := engine.Authorize(r.Context(), authz.Request{
				RouteKey:      key,
				Bearer:        BearerToken(r.Header.Get("Authorization")),
				TenantParam:   strings.TrimSpace(cfg.tenant(r)),
				CorrelationID: r.Header.Get(CorrelationHeader),
			})
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), resultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the credential of an Authorization header. The scheme
// is matched case-insensitively; anything else yields "".
func BearerToken(value string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError renders err with authcore.StatusCode. Server errors are not
// echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := authcore.StatusCode(err)
	msg := "internal error"
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
