package authz

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nur2097/template-project-sub000/permission"
)

// Request is the immutable scope of one authorization call.
type Request struct {
	RouteKey string
	// Bearer is the raw access token without the scheme.
	Bearer string
	// TenantParam is the explicitly targeted company id, if the caller sent one.
	TenantParam   string
	CorrelationID string
}

// Principal is the authenticated caller as described by the access token.
type Principal struct {
	UserID      int64
	CompanyID   *int64
	CompanySlug string
	DeviceID    string
	SystemRole  permission.SystemRole
	Roles       []string
	Permissions []string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Elevated reports whether the principal holds the top system tier.
func (p *Principal) Elevated() bool {
	return p != nil && p.SystemRole.IsElevated()
}

// Grants returns the principal's indexed grants.
func (p *Principal) Grants() permission.Grants {
	return permission.NewGrants(p.SystemRole, p.Roles, p.Permissions)
}

// Tenant is the resolved tenant of a request. ID is nil only for an elevated
// caller in global mode.
type Tenant struct {
	ID     *int64
	Global bool
}

// DefaultMaxTenantID bounds accepted tenant parameters.
const DefaultMaxTenantID int64 = 2147483647

var (
	// ErrTenantParamInvalid is returned for malformed or out of range tenant ids.
	ErrTenantParamInvalid = errors.New("tenant parameter invalid")
)

// ParseTenantParam accepts a decimal id in [1, max].
func ParseTenantParam(raw string, max int64) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 19 {
		return 0, ErrTenantParamInvalid
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, ErrTenantParamInvalid
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTenantParamInvalid
	}
	if max <= 0 {
		max = DefaultMaxTenantID
	}
	if id > max {
		return 0, ErrTenantParamInvalid
	}
	return id, nil
}
