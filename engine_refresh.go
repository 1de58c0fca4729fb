package authcore

import (
	"context"
	"fmt"

	"github.com/nur2097/template-project-sub000/internal/flows"
)

// Refresh rotates refreshToken. The presented token is consumed atomically;
// of any number of concurrent calls with the same token exactly one succeeds
// and the others return ErrRefreshTokenNotFound. Claims of the new access
// token are resolved fresh from the store.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.Refresh(ctx, refreshToken)
	err := refreshError(res)
	e.metrics.Refresh.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		if res.Failure == flows.RefreshFailureRotate {
			e.log.Error().Err(res.Err).Msg("refresh rotation failed")
		}
		// The caller only learns that the token is unusable; the audit
		// trail keeps the reason.
		cause := err.Error()
		if res.Failure == flows.RefreshFailureAccountStatus && res.Err != nil {
			cause = res.Err.Error()
		}
		e.emitAudit(ctx, AuditEvent{EventType: AuditRefreshFailure, Error: cause})
		return nil, err
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefreshSuccess,
		UserID:    res.UserID,
		CompanyID: companyOf(res.CompanyID),
		DeviceID:  res.DeviceID,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken.Token,
		RefreshExpiresAt: res.RefreshToken.ExpiresAt,
	}, nil
}

func refreshError(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureNone:
		return nil
	case flows.RefreshFailureNotFound, flows.RefreshFailureAccountStatus:
		return ErrRefreshTokenNotFound
	default:
		return fmt.Errorf("rotate refresh token: %w", res.Err)
	}
}
