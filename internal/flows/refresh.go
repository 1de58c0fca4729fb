package flows

import (
	"context"
	"errors"
	"time"

	"github.com/nur2097/template-project-sub000/refresh"
	"github.com/nur2097/template-project-sub000/store"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNotFound
	RefreshFailureAccountStatus
	RefreshFailureRotate
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure         RefreshFailureKind
	Err             error
	UserID          int64
	DeviceID        string
	CompanyID       *int64
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    store.RefreshToken
}

// Rotator is the refresh manager surface used by the flow.
type Rotator interface {
	Rotate(ctx context.Context, old string, mint refresh.MintFunc) (*refresh.Rotation, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Rotator Rotator
	// MintAccess resolves fresh claims for the record's owner and signs an
	// access token. It must wrap refresh.ErrConsumed when the owner may no
	// longer hold a session.
	MintAccess  func(ctx context.Context, rec store.RefreshToken) (string, time.Time, error)
	TouchDevice func(ctx context.Context, userID int64, deviceID string) error
	Warn        func(msg string, err error)
}

// RunRefresh rotates the presented token and returns the successor pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	var accessExp time.Time
	mint := func(ctx context.Context, rec store.RefreshToken) (string, error) {
		token, exp, err := deps.MintAccess(ctx, rec)
		accessExp = exp
		return token, err
	}

	rot, err := deps.Rotator.Rotate(ctx, refreshToken, mint)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err}
		case errors.Is(err, refresh.ErrConsumed):
			return RefreshResult{Failure: RefreshFailureAccountStatus, Err: err}
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err}
		}
	}

	next := rot.Next
	if deps.TouchDevice != nil {
		if err := deps.TouchDevice(ctx, next.UserID, next.DeviceID); err != nil && deps.Warn != nil {
			deps.Warn("device touch failed", err)
		}
	}

	return RefreshResult{
		UserID:          next.UserID,
		DeviceID:        next.DeviceID,
		CompanyID:       next.CompanyID,
		AccessToken:     rot.AccessToken,
		AccessExpiresAt: accessExp,
		RefreshToken:    next,
	}
}
