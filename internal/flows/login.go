package flows

import (
	"context"
	"errors"
	"time"

	"github.com/nur2097/template-project-sub000/device"
	"github.com/nur2097/template-project-sub000/store"
)

// LoginFailureKind classifies authentication failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureThrottled
	LoginFailureInvalidCredentials
	LoginFailureAccountNotActive
	LoginFailureLookup
	LoginFailureDevice
	LoginFailureIssueRefresh
	LoginFailureIssueAccess
)

// LoginRequest is the flow input. Metadata comes from the request scope.
type LoginRequest struct {
	Email    string
	Password string
	Metadata device.Metadata
}

// LoginResult carries the issued credentials or failure metadata.
type LoginResult struct {
	Failure         LoginFailureKind
	Err             error
	User            *store.User
	Device          *store.Device
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    store.RefreshToken
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	// CheckThrottle and RecordFailure are optional attempt limiting hooks.
	CheckThrottle  func(ctx context.Context, email, ip string) error
	RecordFailure  func(ctx context.Context, email, ip string)
	ResetThrottle  func(ctx context.Context, email, ip string)
	LookupUser     func(ctx context.Context, email string) (*store.User, error)
	VerifyPassword func(password, encoded string) (bool, error)
	// DummyHash is verified against when the user does not exist so unknown
	// and known emails take comparable time.
	DummyHash      string
	CheckAccount   func(ctx context.Context, u *store.User) error
	Fingerprint    func(userAgent, ip string) string
	RegisterDevice func(ctx context.Context, userID int64, companyID *int64, deviceID string, meta device.Metadata) (*store.Device, error)
	IssueRefresh   func(ctx context.Context, userID int64, deviceID string, companyID *int64) (store.RefreshToken, error)
	MintAccess     func(ctx context.Context, u *store.User, deviceID string) (string, time.Time, error)
	TouchLastLogin func(ctx context.Context, userID int64) error
	Warn           func(msg string, err error)
}

// RunLogin verifies credentials, registers the device and issues a token pair.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	ip := req.Metadata.IP
	if deps.CheckThrottle != nil {
		if err := deps.CheckThrottle(ctx, req.Email, ip); err != nil {
			return LoginResult{Failure: LoginFailureThrottled, Err: err}
		}
	}

	u, err := deps.LookupUser(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return LoginResult{Failure: LoginFailureLookup, Err: err}
		}
		u = nil
	}

	encoded := deps.DummyHash
	if u != nil {
		encoded = u.PasswordHash
	}
	ok, verr := deps.VerifyPassword(req.Password, encoded)
	if u == nil || verr != nil || !ok {
		if deps.RecordFailure != nil {
			deps.RecordFailure(ctx, req.Email, ip)
		}
		return LoginResult{Failure: LoginFailureInvalidCredentials, Err: verr}
	}

	if err := deps.CheckAccount(ctx, u); err != nil {
		return LoginResult{Failure: LoginFailureAccountNotActive, Err: err, User: u}
	}

	deviceID := deps.Fingerprint(req.Metadata.UserAgent, ip)
	dev, err := deps.RegisterDevice(ctx, u.ID, u.CompanyID, deviceID, req.Metadata)
	if err != nil {
		return LoginResult{Failure: LoginFailureDevice, Err: err, User: u}
	}

	access, accessExp, err := deps.MintAccess(ctx, u, deviceID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssueAccess, Err: err, User: u, Device: dev}
	}

	rt, err := deps.IssueRefresh(ctx, u.ID, deviceID, u.CompanyID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssueRefresh, Err: err, User: u, Device: dev}
	}

	if deps.ResetThrottle != nil {
		deps.ResetThrottle(ctx, req.Email, ip)
	}
	if deps.TouchLastLogin != nil {
		if err := deps.TouchLastLogin(ctx, u.ID); err != nil && deps.Warn != nil {
			deps.Warn("last login update failed", err)
		}
	}

	return LoginResult{
		User:            u,
		Device:          dev,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    rt,
	}
}
