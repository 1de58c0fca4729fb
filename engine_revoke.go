package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nur2097/template-project-sub000/jwt"
)

// RevokeToken blacklists a single access token until it expires. Expired
// tokens are already unusable and are ignored.
func (e *Engine) RevokeToken(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accessToken == "" {
		return ErrTokenMissing
	}

	claims, err := e.jwt.Parse(accessToken)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return ErrTokenInvalid
	}

	if err := e.blacklist.BlacklistToken(ctx, accessToken, claims.ExpiryTime()); err != nil {
		e.emitAudit(ctx, AuditEvent{EventType: AuditRevokeToken, UserID: claims.UID, DeviceID: claims.DID, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditRevokeToken, UserID: claims.UID, DeviceID: claims.DID, Success: true})
	return nil
}

// Logout ends the session of the device the access token was issued to.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	principal, err := e.Validate(ctx, accessToken)
	if err != nil {
		return err
	}
	return e.RevokeDevice(ctx, principal.UserID, principal.DeviceID)
}

// RevokeDevice revokes every credential of one device and deactivates it.
// The device's outstanding access tokens are blacklisted by cutoff.
func (e *Engine) RevokeDevice(ctx context.Context, userID int64, deviceID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.RevokeDeviceCredentials(ctx, userID, deviceID)
	if err == nil {
		err = e.devices.Deactivate(ctx, userID, deviceID)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRevokeDevice,
		UserID:    userID,
		DeviceID:  deviceID,
		Success:   err == nil,
		Error:     errString(err),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
	}
	return nil
}

// RevokeUser invalidates every access and refresh token of userID
// ("logout everywhere"). A failed cache write is returned as
// ErrInvalidationFailed and must be treated as not revoked.
func (e *Engine) RevokeUser(ctx context.Context, userID int64) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.blacklist.BlacklistUser(ctx, userID, e.config.now())
	var revoked int
	if err == nil {
		revoked, err = e.refresh.RevokeForUser(ctx, userID)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRevokeUser,
		UserID:    userID,
		Success:   err == nil,
		Error:     errString(err),
		Metadata:  map[string]string{"refresh_tokens": strconv.Itoa(revoked)},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
	}
	return nil
}

// InvalidateCompany blacklists the outstanding access tokens of every user of
// companyID. Call it after a tenant-wide role or permission change; the next
// refresh mints tokens with the new grants.
func (e *Engine) InvalidateCompany(ctx context.Context, companyID int64) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	ids, err := e.store.UserIDsByCompany(ctx, companyID)
	if err == nil {
		err = e.blacklist.BlacklistUsers(ctx, ids, e.config.now())
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditInvalidateCompany,
		CompanyID: companyID,
		Success:   err == nil,
		Error:     errString(err),
		Metadata:  map[string]string{"users": strconv.Itoa(len(ids))},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
	}
	e.log.Info().Int64("company_id", companyID).Int("users", len(ids)).Msg("company tokens invalidated")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
