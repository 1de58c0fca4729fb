// Package fiberguard adapts the authorization engine to gofiber handlers.
// Attach Guard per route (app.Get(path, fiberguard.Guard(e), handler)) so the
// registered path is the route key.
package fiberguard

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	authcore "github.com/nur2097/template-project-sub000"
	"github.com/nur2097/template-project-sub000/authz"
)

// Locals keys.
const (
	LocalResult = "authcore_result"
)

// TenantHeader is the default source of the explicit tenant parameter.
const TenantHeader = "X-Company-ID"

// Authorizer is the engine surface used by Guard.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) (*authcore.AuthorizeResult, error)
}

// Config customizes Guard.
type Config struct {
	// Tenant reads the explicit tenant parameter; defaults to TenantHeader.
	Tenant func(c *fiber.Ctx) string
}

// Context returns the request context carrying client IP, User-Agent and
// correlation id, as Authenticate expects.
func Context(c *fiber.Ctx) context.Context {
	ctx := authcore.WithClientIP(c.UserContext(), c.IP())
	ctx = authcore.WithUserAgent(ctx, c.Get(fiber.HeaderUserAgent))
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		ctx = authcore.WithCorrelationID(ctx, id)
	}
	return ctx
}

// Guard authorizes the request against the route registered under the
// request method and the matched fiber path.
func Guard(engine Authorizer, cfgs ...Config) fiber.Handler {
	var cfg Config
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.Tenant == nil {
		cfg.Tenant = func(c *fiber.Ctx) string { return c.Get(TenantHeader) }
	}

	return func(c *fiber.Ctx) error {
		if engine == nil {
			return writeError(c, authcore.ErrEngineNotReady)
		}

		res, err := engine.Authorize(Context(c), authz.Request{
			RouteKey:      authz.Key(c.Method(), c.Route().Path),
			Bearer:        bearerToken(c.Get(fiber.HeaderAuthorization)),
			TenantParam:   strings.TrimSpace(cfg.Tenant(c)),
			CorrelationID: c.Get(fiber.HeaderXRequestID),
		})
		if err != nil {
			return writeError(c, err)
		}
		c.Locals(LocalResult, res)
		return c.Next()
	}
}

// Result returns the authorization outcome stored by Guard.
func Result(c *fiber.Ctx) (*authcore.AuthorizeResult, bool) {
	res, ok := c.Locals(LocalResult).(*authcore.AuthorizeResult)
	return res, ok
}

// Principal returns the authenticated caller, absent on public routes.
func Principal(c *fiber.Ctx) (*authz.Principal, bool) {
	res, ok := Result(c)
	if !ok || res.Principal == nil {
		return nil, false
	}
	return res.Principal, true
}

// Tenant returns the tenant the request was bound to.
func Tenant(c *fiber.Ctx) (authz.Tenant, bool) {
	res, ok := Result(c)
	if !ok {
		return authz.Tenant{}, false
	}
	return res.Tenant, true
}

func bearerToken(value string) string {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(c *fiber.Ctx, err error) error {
	status := authcore.StatusCode(err)
	msg := "internal error"
	if status < fiber.StatusInternalServerError {
		msg = err.Error()
	}
	if status == fiber.StatusUnauthorized {
		c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="api"`)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
