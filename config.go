package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/device"
	"github.com/nur2097/template-project-sub000/password"
)

// Config is the engine configuration. Start from DefaultConfig and override.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Device    DeviceConfig
	Blacklist BlacklistConfig
	Tenant    TenantConfig
	Login     LoginConfig
	Password  password.Config
	Audit     AuditConfig
	Retry     RetryConfig
	// Now overrides the engine clock; nil means time.Now.
	Now func() time.Time
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and validation.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
REFRESH / DEVICE CONFIG
====================================
*/

// RefreshConfig controls refresh-token lifetime.
type RefreshConfig struct {
	TTL time.Duration
}

// DeviceConfig controls the per-user device quota and retention of
// deactivated devices.
type DeviceConfig struct {
	Quota     int
	Retention time.Duration
}

/*
====================================
BLACKLIST / TENANT CONFIG
====================================
*/

// BlacklistConfig controls cache key naming.
type BlacklistConfig struct {
	Prefix string
}

// TenantConfig bounds explicitly targeted tenant ids.
type TenantConfig struct {
	MaxID int64
}

/*
====================================
LOGIN / AUDIT / RETRY CONFIG
====================================
*/

// LoginConfig controls the failed-login throttle. MaxAttempts 0 disables it.
type LoginConfig struct {
	MaxAttempts      int
	Window           time.Duration
	EnableIPThrottle bool
	Prefix           string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// RetryConfig controls how failed eviction cascades are replayed.
type RetryConfig struct {
	MaxAttempts int
	PerSecond   float64
	Backoff     time.Duration
	QueueSize   int
}

// DefaultConfig returns production defaults. JWT keys must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Device: DeviceConfig{
			Quota:     device.DefaultQuota,
			Retention: 90 * 24 * time.Hour,
		},
		Blacklist: BlacklistConfig{
			Prefix: "bl",
		},
		Tenant: TenantConfig{
			MaxID: authz.DefaultMaxTenantID,
		},
		Login: LoginConfig{
			MaxAttempts: 10,
			Window:      15 * time.Minute,
			Prefix:      "rl",
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			PerSecond:   2,
			Backoff:     time.Second,
			QueueSize:   256,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT.AccessTTL must be <= 1h")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT.PrivateKey must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("JWT keys required for ed25519")
		}
	default:
		return errors.New("JWT.SigningMethod must be hs256 or ed25519")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh.TTL must exceed JWT.AccessTTL")
	}
	if c.Device.Quota <= 0 {
		return errors.New("Device.Quota must be > 0")
	}
	if c.Device.Retention < 0 {
		return errors.New("Device.Retention must be >= 0")
	}
	if strings.TrimSpace(c.Blacklist.Prefix) == "" {
		return errors.New("Blacklist.Prefix must not be empty")
	}
	if c.Tenant.MaxID <= 0 {
		return errors.New("Tenant.MaxID must be > 0")
	}
	if c.Login.MaxAttempts < 0 {
		return errors.New("Login.MaxAttempts must be >= 0")
	}
	if c.Login.MaxAttempts > 0 && c.Login.Window <= 0 {
		return errors.New("Login.Window must be > 0 when throttling is enabled")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.PerSecond <= 0 {
		return errors.New("Retry.MaxAttempts and Retry.PerSecond must be > 0")
	}
	return nil
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
