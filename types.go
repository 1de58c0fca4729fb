package authcore

import (
	"time"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/store"
)

// Credentials are what a user presents to sign in.
type Credentials struct {
	Email    string
	Password string
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Authenticate and StartSession.
type LoginResult struct {
	TokenPair
	UserID    int64
	CompanyID *int64
	DeviceID  string
	// PasswordNeedsUpgrade is set when the stored hash should be replaced.
	PasswordNeedsUpgrade bool
}

// AuthorizeResult is the successful outcome of Authorize. Principal is nil
// for public routes.
type AuthorizeResult struct {
	Route     authz.Route
	Principal *authz.Principal
	Tenant    authz.Tenant
	Decision  authz.Decision
}

// Session is one signed-in device as shown to its user.
type Session = store.SessionSummary
