package authcore

import (
	"errors"
	"strings"

	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/blacklist"
	"github.com/nur2097/template-project-sub000/device"
	internalaudit "github.com/nur2097/template-project-sub000/internal/audit"
	"github.com/nur2097/template-project-sub000/internal/rate"
	"github.com/nur2097/template-project-sub000/internal/retry"
	"github.com/nur2097/template-project-sub000/jwt"
	"github.com/nur2097/template-project-sub000/password"
	"github.com/nur2097/template-project-sub000/policy"
	"github.com/nur2097/template-project-sub000/refresh"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an Engine. Builders are single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	routes   *authz.Table
	enforcer policy.Enforcer
	chain    authz.Chain

	log       zerolog.Logger
	registry  prometheus.Registerer
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		log:    zerolog.Nop(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the blacklist and throttle cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the credential store.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRoutes sets the route metadata table. The table is frozen by Build.
func (b *Builder) WithRoutes(t *authz.Table) *Builder {
	b.routes = t
	return b
}

// WithEnforcer sets the policy engine consulted for routes that declare a
// resource/action pair. Without one such routes are denied.
func (b *Builder) WithEnforcer(e policy.Enforcer) *Builder {
	b.enforcer = e
	return b
}

// WithChain replaces the default decision chain.
func (b *Builder) WithChain(c authz.Chain) *Builder {
	b.chain = c
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithMetricsRegisterer registers the engine collectors on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.routes == nil {
		return nil, errors.New("route table required")
	}

	log := b.log.With().Str("component", "engine").Logger()
	metrics, err := NewMetrics(b.registry)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:   cfg,
		log:      log,
		store:    b.store,
		routes:   b.routes,
		enforcer: b.enforcer,
		metrics:  metrics,
		stop:     make(chan struct{}),
	}

	// -------- TOKENS --------
	e.jwt, err = jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	e.hasher, err = password.New(cfg.Password)
	if err != nil {
		return nil, err
	}
	// Verified against for unknown emails so lookups are not a timing oracle.
	e.dummyHash, err = e.hasher.Hash("authcore-dummy-password")
	if err != nil {
		return nil, err
	}

	// -------- BLACKLIST --------
	e.blacklist, err = blacklist.New(b.redis, b.store, blacklist.Config{
		Prefix:       cfg.Blacklist.Prefix,
		MaxAccessTTL: cfg.JWT.AccessTTL + cfg.JWT.Leeway,
		OnFailOpen:   e.onFailOpen,
		Now:          cfg.Now,
	}, b.log)
	if err != nil {
		return nil, err
	}

	// -------- REFRESH / DEVICES --------
	e.refresh, err = refresh.NewManager(b.store, e.blacklist, refresh.Config{
		TTL: cfg.Refresh.TTL,
		Now: cfg.Now,
	}, b.log)
	if err != nil {
		return nil, err
	}

	e.retry = retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		PerSecond:   cfg.Retry.PerSecond,
		Backoff:     cfg.Retry.Backoff,
		QueueSize:   cfg.Retry.QueueSize,
		OnResult:    e.onRetryResult,
	}, b.log)

	e.devices, err = device.NewRegistry(b.store, e, device.Config{
		Quota:            cfg.Device.Quota,
		Retention:        cfg.Device.Retention,
		Now:              cfg.Now,
		OnEvict:          e.onEvict,
		OnCascadeFailure: e.onCascadeFailure,
	}, b.log)
	if err != nil {
		e.retry.Close()
		return nil, err
	}

	e.limiter = rate.New(b.redis, rate.Config{
		Prefix:           cfg.Login.Prefix,
		EnableIPThrottle: cfg.Login.EnableIPThrottle,
		MaxAttempts:      cfg.Login.MaxAttempts,
		Window:           cfg.Login.Window,
	})

	// -------- AUTHORIZATION --------
	b.routes.Freeze()
	e.chain = b.chain
	if len(e.chain) == 0 {
		e.chain = authz.DefaultChain(b.enforcer)
	}

	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	e.flows = e.buildFlows()

	b.built = true
	return e, nil
}
