package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nur2097/template-project-sub000/blacklist"
	"github.com/nur2097/template-project-sub000/device"
	"github.com/nur2097/template-project-sub000/internal/flows"
	"github.com/nur2097/template-project-sub000/internal/rate"
	"github.com/nur2097/template-project-sub000/jwt"
	"github.com/nur2097/template-project-sub000/refresh"
	"github.com/nur2097/template-project-sub000/store"
)

func (e *Engine) buildFlows() flows.Service {
	validate := flows.ValidateDeps{
		ParseAccess: e.jwt.Parse,
		IsBlacklisted: func(ctx context.Context, ref blacklist.TokenRef) bool {
			return e.blacklist.IsBlacklisted(ctx, ref)
		},
		ExpiredErr: jwt.ErrTokenExpired,
	}

	return flows.New(flows.Deps{
		Login: flows.LoginDeps{
			CheckThrottle:  e.checkLoginThrottle,
			RecordFailure:  e.recordLoginFailure,
			ResetThrottle:  e.resetLoginThrottle,
			LookupUser:     e.store.UserByEmail,
			VerifyPassword: e.hasher.Verify,
			DummyHash:      e.dummyHash,
			CheckAccount:   e.checkAccount,
			Fingerprint:    device.Fingerprint,
			RegisterDevice: e.devices.RegisterOrTouch,
			IssueRefresh:   e.refresh.Issue,
			MintAccess:     e.mintForUser,
			TouchLastLogin: func(ctx context.Context, userID int64) error {
				return e.store.TouchLastLogin(ctx, userID, e.config.now())
			},
			Warn: e.warn,
		},
		Refresh: flows.RefreshDeps{
			Rotator:     e.refresh,
			MintAccess:  e.mintForRotation,
			TouchDevice: e.devices.Touch,
			Warn:        e.warn,
		},
		Validate: validate,
		Authorize: flows.AuthorizeDeps{
			Routes:      e.routes,
			Validate:    validate,
			Chain:       e.chain,
			MaxTenantID: e.config.Tenant.MaxID,
		},
	})
}

func (e *Engine) warn(msg string, err error) {
	e.log.Warn().Err(err).Msg(msg)
}

// checkLoginThrottle fails open when the counter backend is down; the
// password check still stands between the caller and a session.
func (e *Engine) checkLoginThrottle(ctx context.Context, email, ip string) error {
	err := e.limiter.CheckLogin(ctx, email, ip)
	if errors.Is(err, rate.ErrRedisUnavailable) {
		e.log.Warn().Err(err).Msg("login throttle unavailable")
		return nil
	}
	return err
}

func (e *Engine) recordLoginFailure(ctx context.Context, email, ip string) {
	if err := e.limiter.IncrementLogin(ctx, email, ip); err != nil {
		e.log.Warn().Err(err).Msg("login throttle increment failed")
	}
}

func (e *Engine) resetLoginThrottle(ctx context.Context, email, _ string) {
	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.log.Warn().Err(err).Msg("login throttle reset failed")
	}
}

// checkAccount requires an ACTIVE user whose company, if any, is active.
func (e *Engine) checkAccount(ctx context.Context, u *store.User) error {
	if u.Status != store.StatusActive {
		return ErrAccountNotActive
	}
	if u.CompanyID == nil {
		return nil
	}
	c, err := e.store.CompanyByID(ctx, *u.CompanyID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotActive
	}
	if err != nil {
		return err
	}
	if !c.Active {
		return ErrAccountNotActive
	}
	return nil
}

// mintForUser resolves roles and permissions fresh from the store and signs
// an access token carrying them.
func (e *Engine) mintForUser(ctx context.Context, u *store.User, deviceID string) (string, time.Time, error) {
	subject := jwt.Subject{
		UserID:     u.ID,
		CompanyID:  u.CompanyID,
		DeviceID:   deviceID,
		SystemRole: u.SystemRole.String(),
	}
	if u.CompanyID != nil {
		c, err := e.store.CompanyByID(ctx, *u.CompanyID)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("resolve company: %w", err)
		}
		subject.CompanySlug = c.Slug
	}

	grants, err := e.store.ResolveGrants(ctx, u.ID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("resolve grants: %w", err)
	}
	subject.Roles = grants.Roles
	subject.Permissions = grants.Permissions

	token, claims, err := e.jwt.Mint(subject)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiryTime(), nil
}

// mintForRotation runs inside the rotation transaction. Accounts that may no
// longer hold a session, and devices that were evicted, consume the old token
// without a successor.
func (e *Engine) mintForRotation(ctx context.Context, rec store.RefreshToken) (string, time.Time, error) {
	u, err := e.store.UserByID(ctx, rec.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return "", time.Time{}, fmt.Errorf("%w: %w", refresh.ErrConsumed, ErrAccountNotActive)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if err := e.checkAccount(ctx, u); err != nil {
		if errors.Is(err, ErrAccountNotActive) {
			return "", time.Time{}, fmt.Errorf("%w: %w", refresh.ErrConsumed, err)
		}
		return "", time.Time{}, err
	}

	d, err := e.store.DeviceByID(ctx, rec.UserID, rec.DeviceID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !d.Active) {
		return "", time.Time{}, fmt.Errorf("%w: %w", refresh.ErrConsumed, ErrRefreshTokenNotFound)
	}
	if err != nil {
		return "", time.Time{}, err
	}

	return e.mintForUser(ctx, u, rec.DeviceID)
}

func validateError(kind flows.ValidateFailureKind) error {
	switch kind {
	case flows.ValidateFailureMissing:
		return ErrTokenMissing
	case flows.ValidateFailureExpired:
		return ErrTokenExpired
	case flows.ValidateFailureBlacklisted:
		return ErrTokenBlacklisted
	default:
		return ErrTokenInvalid
	}
}
