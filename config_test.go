package authcore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nur2097/template-project-sub000/store/memory"
	"github.com/redis/go-redis/v9"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing key to fail validation")
	}
	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero access ttl":         func(c *Config) { c.JWT.AccessTTL = 0 },
		"access ttl over an hour": func(c *Config) { c.JWT.AccessTTL = 2 * time.Hour },
		"short hmac key":          func(c *Config) { c.JWT.PrivateKey = []byte("short") },
		"unknown signing method":  func(c *Config) { c.JWT.SigningMethod = "rs256" },
		"ed25519 without keys":    func(c *Config) { c.JWT.SigningMethod = "ed25519"; c.JWT.PublicKey = nil },
		"refresh not longer":      func(c *Config) { c.Refresh.TTL = c.JWT.AccessTTL },
		"zero quota":              func(c *Config) { c.Device.Quota = 0 },
		"negative retention":      func(c *Config) { c.Device.Retention = -time.Second },
		"blank prefix":            func(c *Config) { c.Blacklist.Prefix = "  " },
		"zero tenant max":         func(c *Config) { c.Tenant.MaxID = 0 },
		"negative attempts":       func(c *Config) { c.Login.MaxAttempts = -1 },
		"throttle without window": func(c *Config) { c.Login.Window = 0 },
		"audit without buffer":    func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
		"retry without attempts":  func(c *Config) { c.Retry.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := New().WithConfig(validConfig()).WithStore(memory.New()).WithRoutes(testRoutes()).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}
	if _, err := New().WithConfig(validConfig()).WithRedis(rdb).WithRoutes(testRoutes()).Build(); err == nil {
		t.Fatal("expected missing store to fail")
	}
	if _, err := New().WithConfig(validConfig()).WithRedis(rdb).WithStore(memory.New()).Build(); err == nil {
		t.Fatal("expected missing routes to fail")
	}

	cfg := validConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	b := New().WithConfig(cfg).WithRedis(rdb).WithStore(memory.New()).WithRoutes(testRoutes())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{ErrLoginThrottled, 429},
		{ErrInvalidCredentials, 401},
		{ErrTokenExpired, 401},
		{fmt.Errorf("wrapped: %w", ErrTokenBlacklisted), 401},
		{ErrTenantAccessDenied, 403},
		{ErrPolicyDenied, 403},
		{ErrRouteUnknown, 403},
		{ErrInvalidationFailed, 500},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Fatalf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
	if errors.Is(ErrPolicyDenied, ErrUnauthenticated) {
		t.Fatal("forbidden errors must not be unauthenticated")
	}
}
