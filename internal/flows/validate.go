package flows

import (
	"context"
	"errors"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/blacklist"
	"github.com/nur2097/template-project-sub000/jwt"
	"github.com/nur2097/template-project-sub000/permission"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMissing
	ValidateFailureInvalid
	ValidateFailureExpired
	ValidateFailureBlacklisted
)

// ValidateResult returns either the principal or a classified failure.
type ValidateResult struct {
	Failure   ValidateFailureKind
	Err       error
	Claims    *jwt.AccessClaims
	Principal *authz.Principal
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess   func(string) (*jwt.AccessClaims, error)
	IsBlacklisted func(context.Context, blacklist.TokenRef) bool
	ExpiredErr    error
}

// RunValidate checks signature, expiry and every blacklist granularity.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	if tokenStr == "" {
		return ValidateResult{Failure: ValidateFailureMissing}
	}
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		if deps.ExpiredErr != nil && errors.Is(err, deps.ExpiredErr) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}

	role := permission.SystemRole(claims.Role)
	if !role.Valid() {
		return ValidateResult{Failure: ValidateFailureInvalid, Err: errors.New("unknown system role claim")}
	}

	if deps.IsBlacklisted != nil && deps.IsBlacklisted(ctx, blacklist.TokenRef{
		Token:    tokenStr,
		UserID:   claims.UID,
		DeviceID: claims.DID,
		IssuedAt: claims.IssuedTime(),
	}) {
		return ValidateResult{Failure: ValidateFailureBlacklisted, Claims: claims}
	}

	return ValidateResult{
		Claims:    claims,
		Principal: PrincipalFromClaims(claims),
	}
}

// PrincipalFromClaims projects token claims onto the authorization principal.
func PrincipalFromClaims(c *jwt.AccessClaims) *authz.Principal {
	return &authz.Principal{
		UserID:      c.UID,
		CompanyID:   c.CID,
		CompanySlug: c.Slug,
		DeviceID:    c.DID,
		SystemRole:  permission.SystemRole(c.Role),
		Roles:       c.Roles,
		Permissions: c.Perms,
		TokenID:     c.ID,
		IssuedAt:    c.IssuedTime(),
		ExpiresAt:   c.ExpiryTime(),
	}
}
