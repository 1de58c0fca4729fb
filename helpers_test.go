package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/password"
	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/policy"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/nur2097/template-project-sub000/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testPassword = "correct-horse-battery"

const (
	aliceID  int64 = 1 // company 1, editor role
	bobID    int64 = 2 // company 2
	rootID   int64 = 3 // super admin, no company
	danID    int64 = 4 // company 3 (inactive)
	carolID  int64 = 5 // company 1, no roles
	orphanID int64 = 6 // no company, not elevated
)

var testEmails = map[int64]string{
	aliceID:  "alice@acme.io",
	bobID:    "bob@globex.io",
	rootID:   "root@platform.io",
	danID:    "dan@dormant.io",
	carolID:  "carol@acme.io",
	orphanID: "orphan@nowhere.io",
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	store  *memory.Store
	mr     *miniredis.Miniredis
	clock  *testClock
	reg    *prometheus.Registry
	sink   *ChannelSink
}

func int64p(v int64) *int64 { return &v }

func testConfig(clock *testClock) Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Login.MaxAttempts = 0
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.PerSecond = 1000
	cfg.Now = clock.Now
	return cfg
}

func testRoutes() *authz.Table {
	catalog := permission.NewRegistry()
	for _, p := range []string{"documents:read", "documents:write", "documents:delete"} {
		if err := catalog.Register(p); err != nil {
			panic(err)
		}
	}
	t := authz.NewTable(catalog)
	t.MustRegister(authz.Key("POST", "/auth/login"), authz.Route{Public: true})
	t.MustRegister(authz.Key("GET", "/me"), authz.Route{})
	t.MustRegister(authz.Key("GET", "/documents"), authz.Route{
		Requirements: []permission.Requirement{permission.RequireAll("documents:read")},
	})
	t.MustRegister(authz.Key("DELETE", "/documents/:id"), authz.Route{
		Policy: &authz.PolicyRef{Resource: "documents", Action: "delete"},
		// Ignored: the policy decision is final.
		Requirements: []permission.Requirement{permission.RequireAll("documents:read")},
	})
	t.MustRegister(authz.Key("GET", "/admin/companies"), authz.Route{RequireSuperAdmin: true})
	return t
}

func seed(t *testing.T, s *memory.Store, e *Engine) {
	t.Helper()
	hash, err := e.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	s.PutCompany(store.Company{ID: 1, Slug: "acme", Name: "Acme", Active: true})
	s.PutCompany(store.Company{ID: 2, Slug: "globex", Name: "Globex", Active: true})
	s.PutCompany(store.Company{ID: 3, Slug: "dormant", Name: "Dormant", Active: false})

	users := []store.User{
		{ID: aliceID, CompanyID: int64p(1)},
		{ID: bobID, CompanyID: int64p(2)},
		{ID: rootID, SystemRole: permission.RoleSuperAdmin},
		{ID: danID, CompanyID: int64p(3)},
		{ID: carolID, CompanyID: int64p(1)},
		{ID: orphanID},
	}
	for _, u := range users {
		u.Email = testEmails[u.ID]
		u.PasswordHash = hash
		u.Status = store.StatusActive
		s.PutUser(u)
	}

	s.PutRole(1, "editor", "documents:read", "documents:write")
	s.AssignRoles(aliceID, "editor")
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	cfg := testConfig(clock)
	for _, m := range mutate {
		m(&cfg)
	}

	s := memory.New()
	s.AddPolicyRules(
		store.PolicyRule{PType: "p", V0: policy.RoleSubject(1, "editor"), V1: "documents", V2: "delete"},
		store.PolicyRule{PType: "g", V0: policy.Subject(int64p(1), aliceID), V1: policy.RoleSubject(1, "editor")},
	)
	enforcer, err := policy.LoadCasbinEnforcer(context.Background(), s)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	reg := prometheus.NewRegistry()
	sink := NewChannelSink(256)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(s).
		WithRoutes(testRoutes()).
		WithEnforcer(enforcer).
		WithLogger(zerolog.Nop()).
		WithMetricsRegisterer(reg).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	seed(t, s, engine)
	return &harness{engine: engine, store: s, mr: mr, clock: clock, reg: reg, sink: sink}
}

func deviceCtx(ua, ip string) context.Context {
	return WithClientIP(WithUserAgent(context.Background(), ua), ip)
}

func (h *harness) login(t *testing.T, userID int64, ua string) *LoginResult {
	t.Helper()
	res, err := h.engine.Authenticate(deviceCtx(ua, "203.0.113.10"), Credentials{
		Email:    testEmails[userID],
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("login user %d: %v", userID, err)
	}
	return res
}

func (h *harness) authorize(bearer, method, pattern, tenant string) (*AuthorizeResult, error) {
	return h.engine.Authorize(context.Background(), authz.Request{
		RouteKey:    authz.Key(method, pattern),
		Bearer:      bearer,
		TenantParam: tenant,
	})
}
