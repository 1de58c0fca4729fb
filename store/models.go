package store

import (
	"time"

	"github.com/nur2097/template-project-sub000/permission"
)

// UserStatus is the lifecycle state of a user. Users are never removed.
type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusInactive  UserStatus = "INACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
)

// User is the identity row. CompanyID is nil only for global SUPERADMIN accounts.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Status       UserStatus
	SystemRole   permission.SystemRole
	CompanyID    *int64
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// Company is the tenant boundary.
type Company struct {
	ID     int64
	Slug   string
	Name   string
	Active bool
}

// Grants are the tenant roles of a user and the permissions those roles carry,
// already flattened. Permission names use the resource:action form.
type Grants struct {
	Roles       []string
	Permissions []string
}

// Device is one user+agent+address combination the user has signed in from.
type Device struct {
	ID           int64
	DeviceID     string
	UserID       int64
	CompanyID    *int64
	UserAgent    string
	IP           string
	Name         string
	Active       bool
	LastAccessAt time.Time
	CreatedAt    time.Time
}

// RefreshToken is a live refresh credential. Token is the plaintext lookup key.
type RefreshToken struct {
	Token     string
	UserID    int64
	DeviceID  string
	CompanyID *int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether t is past its absolute expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SessionSummary is a live refresh token joined with its device.
type SessionSummary struct {
	DeviceID     string
	DeviceName   string
	UserAgent    string
	IP           string
	LastAccessAt time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Current      bool
}

// FallbackEntry is one row of the durable key/expiry table mirroring the
// invalidation cache.
type FallbackEntry struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// PolicyRule is one fine-grained policy line. PType "p" carries
// (subject, resource, action); "g" carries (member, group).
type PolicyRule struct {
	PType string
	V0    string
	V1    string
	V2    string
}
