package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nur2097/template-project-sub000/device"
	"github.com/nur2097/template-project-sub000/internal/flows"
	"github.com/nur2097/template-project-sub000/store"
)

// Authenticate verifies credentials and starts a session on the device
// described by the request context (WithUserAgent, WithClientIP). Registering
// a new device may evict the user's least recently used device.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	meta := device.Metadata{UserAgent: userAgentFromContext(ctx), IP: clientIPFromContext(ctx)}
	res := e.flows.Login(ctx, flows.LoginRequest{
		Email:    strings.TrimSpace(creds.Email),
		Password: creds.Password,
		Metadata: meta,
	})

	err := e.loginError(res)
	e.metrics.Login.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		ev := AuditEvent{EventType: AuditLoginFailure, Error: err.Error()}
		if res.User != nil {
			ev.UserID = res.User.ID
			ev.CompanyID = companyOf(res.User.CompanyID)
		}
		e.emitAudit(ctx, ev)
		return nil, err
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginSuccess,
		UserID:    res.User.ID,
		CompanyID: companyOf(res.User.CompanyID),
		DeviceID:  res.RefreshToken.DeviceID,
		Success:   true,
	})

	out := &LoginResult{
		TokenPair: TokenPair{
			AccessToken:      res.AccessToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshToken:     res.RefreshToken.Token,
			RefreshExpiresAt: res.RefreshToken.ExpiresAt,
		},
		UserID:    res.User.ID,
		CompanyID: res.User.CompanyID,
		DeviceID:  res.RefreshToken.DeviceID,
	}
	if upgrade, err := e.hasher.NeedsUpgrade(res.User.PasswordHash); err == nil {
		out.PasswordNeedsUpgrade = upgrade
	}
	return out, nil
}

func (e *Engine) loginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureNone:
		return nil
	case flows.LoginFailureThrottled:
		return ErrLoginThrottled
	case flows.LoginFailureInvalidCredentials:
		if res.Err != nil {
			e.log.Warn().Err(res.Err).Msg("password verification error")
		}
		return ErrInvalidCredentials
	case flows.LoginFailureAccountNotActive:
		if errors.Is(res.Err, ErrAccountNotActive) {
			return ErrAccountNotActive
		}
		return fmt.Errorf("check account: %w", res.Err)
	case flows.LoginFailureLookup:
		return fmt.Errorf("lookup user: %w", res.Err)
	case flows.LoginFailureDevice:
		return fmt.Errorf("register device: %w", res.Err)
	case flows.LoginFailureIssueRefresh:
		return fmt.Errorf("issue refresh token: %w", res.Err)
	default:
		return fmt.Errorf("issue access token: %w", res.Err)
	}
}

// StartSession issues a token pair for an already verified user, e.g. right
// after registration or invitation acceptance. Device handling matches
// Authenticate.
func (e *Engine) StartSession(ctx context.Context, userID int64) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	u, err := e.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := e.checkAccount(ctx, u); err != nil {
		return nil, err
	}

	meta := device.Metadata{UserAgent: userAgentFromContext(ctx), IP: clientIPFromContext(ctx)}
	deviceID := device.Fingerprint(meta.UserAgent, meta.IP)
	if _, err := e.devices.RegisterOrTouch(ctx, u.ID, u.CompanyID, deviceID, meta); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	access, accessExp, err := e.mintForUser(ctx, u, deviceID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	rt, err := e.refresh.Issue(ctx, u.ID, deviceID, u.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginSuccess,
		UserID:    u.ID,
		CompanyID: companyOf(u.CompanyID),
		DeviceID:  deviceID,
		Success:   true,
		Metadata:  map[string]string{"method": "session"},
	})

	return &LoginResult{
		TokenPair: TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     rt.Token,
			RefreshExpiresAt: rt.ExpiresAt,
		},
		UserID:    u.ID,
		CompanyID: u.CompanyID,
		DeviceID:  deviceID,
	}, nil
}

// HashPassword encodes a password with the engine's argon2id parameters.
func (e *Engine) HashPassword(password string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(password)
}
