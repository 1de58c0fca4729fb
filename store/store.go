package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("store: conflict")
)

// UserStore reads identity, tenant and grant data.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UserIDsByCompany(ctx context.Context, companyID int64) ([]int64, error)
	CompanyByID(ctx context.Context, id int64) (*Company, error)
	ResolveGrants(ctx context.Context, userID int64) (Grants, error)
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// DeviceStore persists devices.
type DeviceStore interface {
	DeviceByID(ctx context.Context, userID int64, deviceID string) (*Device, error)
	InsertDevice(ctx context.Context, d Device) (*Device, error)
	// TouchDevice reactivates the device and refreshes its metadata and lastAccessAt.
	TouchDevice(ctx context.Context, userID int64, deviceID, userAgent, ip string, at time.Time) error
	// ActiveDevices returns active devices ordered by lastAccessAt, oldest first.
	ActiveDevices(ctx context.Context, userID int64) ([]Device, error)
	ListDevices(ctx context.Context, userID int64) ([]Device, error)
	DeactivateDevice(ctx context.Context, userID int64, deviceID string) error
	PurgeInactiveDevices(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenStore persists refresh tokens outside of rotation.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, t RefreshToken) error
	RefreshTokensForUser(ctx context.Context, userID int64) ([]RefreshToken, error)
	RefreshTokensForDevice(ctx context.Context, userID int64, deviceID string) ([]RefreshToken, error)
	DeleteRefreshTokensForUser(ctx context.Context, userID int64) (int64, error)
	DeleteRefreshTokensForDevice(ctx context.Context, userID int64, deviceID string) (int64, error)
	// ActiveSessions returns unexpired tokens of active devices, most recent device activity first.
	ActiveSessions(ctx context.Context, userID int64, now time.Time) ([]SessionSummary, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTx is the transactional view used by rotation.
type RefreshTx interface {
	// TakeRefreshToken deletes the row and returns it. ErrNotFound when absent.
	TakeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	InsertRefreshToken(ctx context.Context, t RefreshToken) error
}

// FallbackStore is the durable mirror of the invalidation cache.
type FallbackStore interface {
	PutFallback(ctx context.Context, entries []FallbackEntry) error
	// GetFallback returns the values of the unexpired keys among keys.
	GetFallback(ctx context.Context, keys []string, now time.Time) (map[string]string, error)
	LiveFallback(ctx context.Context, now time.Time) ([]FallbackEntry, error)
	DeleteExpiredFallback(ctx context.Context, now time.Time) (int64, error)
}

// PolicyStore lists fine-grained policy rules.
type PolicyStore interface {
	PolicyRules(ctx context.Context) ([]PolicyRule, error)
}

// Store is the full credential store.
type Store interface {
	UserStore
	DeviceStore
	RefreshTokenStore
	FallbackStore
	PolicyStore

	// WithinRefreshTx runs fn in one transaction. A non-nil return from fn
	// rolls back; nil commits.
	WithinRefreshTx(ctx context.Context, fn func(tx RefreshTx) error) error
}
