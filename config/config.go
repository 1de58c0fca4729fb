// Package config loads daemon settings from the environment (and an optional
// config.env file) with viper and maps them onto the engine configuration.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	authcore "github.com/nur2097/template-project-sub000"
)

// Settings is everything cmd/authcored needs to start.
type Settings struct {
	App     AppConfig
	HTTP    HTTPConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Janitor JanitorConfig
	Metrics MetricsConfig
}

// AppConfig names the environment and log level.
type AppConfig struct {
	Env      string // development, staging, production
	LogLevel string
	// Demo runs against an in-process Redis and memory store with seeded users.
	Demo bool
}

// HTTPConfig is the listen address of the daemon.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DBConfig points at the credential store.
type DBConfig struct {
	URL     string
	Migrate bool
}

// RedisConfig points at the invalidation cache.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
}

// AuthConfig holds the engine knobs exposed to operators.
type AuthConfig struct {
	JWTSecret        string
	Issuer           string
	Audience         string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	DeviceQuota      int
	DeviceRetention  time.Duration
	LoginMaxAttempts int
	LoginWindow      time.Duration
	LoginIPThrottle  bool
	AuditEnabled     bool
}

// JanitorConfig controls the maintenance loop.
type JanitorConfig struct {
	Interval time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Path string
}

// Load reads settings. Environment variables win over config.env.
// Expected names: APP_ENV, LOG_LEVEL, HTTP_ADDR, DATABASE_URL, REDIS_ADDRS,
// JWT_SECRET, ACCESS_TTL, REFRESH_TTL, DEVICE_QUOTA, LOGIN_MAX_ATTEMPTS, ...
func Load() (*Settings, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // optional

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Settings, error) {
	def := authcore.DefaultConfig()

	s := &Settings{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
			Demo:     getBool(v, "DEMO", false),
		},
		HTTP: HTTPConfig{
			Addr:            getString(v, "HTTP_ADDR", ":8080"),
			ShutdownTimeout: getDuration(v, "HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		DB: DBConfig{
			URL:     getString(v, "DATABASE_URL", ""),
			Migrate: getBool(v, "DB_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addrs:    splitList(getString(v, "REDIS_ADDRS", "localhost:6379")),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:        getString(v, "JWT_SECRET", ""),
			Issuer:           getString(v, "JWT_ISSUER", "authcore"),
			Audience:         getString(v, "JWT_AUDIENCE", ""),
			AccessTTL:        getDuration(v, "ACCESS_TTL", def.JWT.AccessTTL),
			RefreshTTL:       getDuration(v, "REFRESH_TTL", def.Refresh.TTL),
			DeviceQuota:      getInt(v, "DEVICE_QUOTA", def.Device.Quota),
			DeviceRetention:  getDuration(v, "DEVICE_RETENTION", def.Device.Retention),
			LoginMaxAttempts: getInt(v, "LOGIN_MAX_ATTEMPTS", def.Login.MaxAttempts),
			LoginWindow:      getDuration(v, "LOGIN_WINDOW", def.Login.Window),
			LoginIPThrottle:  getBool(v, "LOGIN_IP_THROTTLE", false),
			AuditEnabled:     getBool(v, "AUDIT_ENABLED", true),
		},
		Janitor: JanitorConfig{
			Interval: getDuration(v, "JANITOR_INTERVAL", time.Hour),
		},
		Metrics: MetricsConfig{
			Path: getString(v, "METRICS_PATH", "/metrics"),
		},
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings the engine config does not cover.
func (s *Settings) Validate() error {
	if !s.App.Demo && s.DB.URL == "" {
		return errors.New("DATABASE_URL is required unless DEMO is set")
	}
	if !s.App.Demo && len(s.Redis.Addrs) == 0 {
		return errors.New("REDIS_ADDRS is required unless DEMO is set")
	}
	if len(s.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// EngineConfig maps the settings onto the engine defaults.
func (s *Settings) EngineConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(s.Auth.JWTSecret)
	cfg.JWT.Issuer = s.Auth.Issuer
	cfg.JWT.Audience = s.Auth.Audience
	cfg.JWT.AccessTTL = s.Auth.AccessTTL
	cfg.Refresh.TTL = s.Auth.RefreshTTL
	cfg.Device.Quota = s.Auth.DeviceQuota
	cfg.Device.Retention = s.Auth.DeviceRetention
	cfg.Login.MaxAttempts = s.Auth.LoginMaxAttempts
	cfg.Login.Window = s.Auth.LoginWindow
	cfg.Login.EnableIPThrottle = s.Auth.LoginIPThrottle
	cfg.Audit.Enabled = s.Auth.AuditEnabled
	return cfg
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
