package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nur2097/template-project-sub000/store"
	"github.com/nur2097/template-project-sub000/store/memory"
	"github.com/rs/zerolog"
)

type recordingRevoker struct {
	mu      sync.Mutex
	revoked []string
	fail    bool
}

func (r *recordingRevoker) RevokeDeviceCredentials(_ context.Context, _ int64, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, deviceID)
	if r.fail {
		return errors.New("cache down")
	}
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry(t *testing.T, quota int, rev Revoker, cfg Config) (*Registry, *memory.Store) {
	t.Helper()
	s := memory.New()
	c := &clock{now: time.Now()}
	cfg.Quota = quota
	cfg.Now = c.Now
	reg, err := NewRegistry(s, rev, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, s
}

func TestFingerprintStable(t *testing.T) {
	ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Chrome/120.0"
	a := Fingerprint(ua, "10.0.0.1")
	time.Sleep(2 * time.Millisecond)
	b := Fingerprint(ua, "10.0.0.1")
	if a != b {
		t.Fatal("fingerprint must not depend on time")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == Fingerprint(ua, "10.0.0.2") {
		t.Fatal("different ip must yield different device")
	}
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("separator must prevent boundary collisions")
	}
}

func TestNameFromUserAgent(t *testing.T) {
	tests := map[string]string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36": "Chrome on macOS",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0":           "Firefox on Windows",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1":                        "Safari on iOS",
		"curl/8.4.0": "curl",
		"":           "Unknown device",
	}
	for ua, want := range tests {
		if got := Name(ua); got != want {
			t.Fatalf("Name(%q) = %q, want %q", ua, got, want)
		}
	}
}

func TestSixthDeviceEvictsOldest(t *testing.T) {
	rev := &recordingRevoker{}
	var evicted []string
	reg, _ := newTestRegistry(t, 5, rev, Config{OnEvict: func(d store.Device) { evicted = append(evicted, d.DeviceID) }})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := reg.RegisterOrTouch(ctx, 1, nil, fmt.Sprintf("dev-%d", i), Metadata{}); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := reg.RegisterOrTouch(ctx, 1, nil, "dev-6", Metadata{}); err != nil {
		t.Fatalf("register 6: %v", err)
	}

	active, _ := reg.Active(ctx, 1)
	if len(active) > 5 {
		t.Fatalf("quota exceeded: %d active", len(active))
	}
	for _, d := range active {
		if d.DeviceID == "dev-1" {
			t.Fatal("expected dev-1 (oldest) to be evicted")
		}
	}
	if len(rev.revoked) == 0 || rev.revoked[0] != "dev-1" {
		t.Fatalf("expected dev-1 credentials revoked first, got %v", rev.revoked)
	}
	if len(evicted) == 0 || evicted[0] != "dev-1" {
		t.Fatalf("expected OnEvict for dev-1, got %v", evicted)
	}
}

// The eviction count is activeCount - quota + 1: with 5 active and a quota of
// 5, one device goes before the sixth is inserted, leaving exactly 5 active.
func TestEvictionCountLeavesRoomForIncomingDevice(t *testing.T) {
	reg, s := newTestRegistry(t, 3, nil, Config{})
	ctx := context.Background()

	// Seed more active devices than the quota allows, as after a quota reduction.
	for i := 1; i <= 5; i++ {
		if _, err := s.InsertDevice(ctx, store.Device{
			DeviceID:     fmt.Sprintf("old-%d", i),
			UserID:       1,
			Active:       true,
			LastAccessAt: time.Now().Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if _, err := reg.RegisterOrTouch(ctx, 1, nil, "new", Metadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	active, _ := reg.Active(ctx, 1)
	if len(active) != 3 {
		t.Fatalf("expected exactly quota active devices, got %d", len(active))
	}
	for _, d := range active {
		if d.DeviceID == "old-1" || d.DeviceID == "old-2" || d.DeviceID == "old-3" {
			t.Fatalf("expected the three oldest evicted, found %s", d.DeviceID)
		}
	}
}

func TestKnownDeviceIsTouchedNotEvicting(t *testing.T) {
	rev := &recordingRevoker{}
	reg, _ := newTestRegistry(t, 2, rev, Config{})
	ctx := context.Background()

	_, _ = reg.RegisterOrTouch(ctx, 1, nil, "a", Metadata{})
	_, _ = reg.RegisterOrTouch(ctx, 1, nil, "b", Metadata{})
	d, err := reg.RegisterOrTouch(ctx, 1, nil, "a", Metadata{UserAgent: "ua-2"})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !d.Active {
		t.Fatal("expected active device")
	}
	if len(rev.revoked) != 0 {
		t.Fatalf("re-seeing a known device must not evict, revoked %v", rev.revoked)
	}

	// a is now the most recent, so b is evicted for c
	_, _ = reg.RegisterOrTouch(ctx, 1, nil, "c", Metadata{})
	if len(rev.revoked) != 1 || rev.revoked[0] != "b" {
		t.Fatalf("expected b evicted, got %v", rev.revoked)
	}
}

func TestCascadeFailureDoesNotFailRegistration(t *testing.T) {
	rev := &recordingRevoker{fail: true}
	var failures []string
	reg, _ := newTestRegistry(t, 1, rev, Config{
		OnCascadeFailure: func(_ int64, deviceID string, _ error) { failures = append(failures, deviceID) },
	})
	ctx := context.Background()

	if _, err := reg.RegisterOrTouch(ctx, 1, nil, "a", Metadata{}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := reg.RegisterOrTouch(ctx, 1, nil, "b", Metadata{}); err != nil {
		t.Fatalf("registration must succeed despite cascade failure: %v", err)
	}
	if len(failures) != 1 || failures[0] != "a" {
		t.Fatalf("expected cascade failure reported for a, got %v", failures)
	}
	active, _ := reg.Active(ctx, 1)
	if len(active) != 1 || active[0].DeviceID != "b" {
		t.Fatalf("expected only b active, got %+v", active)
	}
}

func TestQuotaInvariantAcrossLogins(t *testing.T) {
	reg, _ := newTestRegistry(t, 5, &recordingRevoker{}, Config{})
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("dev-%d", i%9)
		if _, err := reg.RegisterOrTouch(ctx, 1, nil, id, Metadata{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		active, _ := reg.Active(ctx, 1)
		if len(active) > reg.Quota() {
			t.Fatalf("after login %d: %d active devices exceed quota", i, len(active))
		}
	}
}

// slowStore widens the window between the quota read and the insert.
type slowStore struct {
	*memory.Store
	delay time.Duration

	mu             sync.Mutex
	failDeactivate int
}

func (s *slowStore) ActiveDevices(ctx context.Context, userID int64) ([]store.Device, error) {
	time.Sleep(s.delay)
	return s.Store.ActiveDevices(ctx, userID)
}

func (s *slowStore) DeactivateDevice(ctx context.Context, userID int64, deviceID string) error {
	s.mu.Lock()
	if s.failDeactivate > 0 {
		s.failDeactivate--
		s.mu.Unlock()
		return errors.New("db down")
	}
	s.mu.Unlock()
	return s.Store.DeactivateDevice(ctx, userID, deviceID)
}

type lockedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *lockedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestConcurrentNewDevicesRespectQuota(t *testing.T) {
	s := &slowStore{Store: memory.New(), delay: 5 * time.Millisecond}
	c := &lockedClock{now: time.Now()}
	reg, err := NewRegistry(s, &recordingRevoker{}, Config{Quota: 5, Now: c.Now}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := reg.RegisterOrTouch(ctx, 1, nil, fmt.Sprintf("old-%d", i), Metadata{}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := reg.RegisterOrTouch(ctx, 1, nil, fmt.Sprintf("new-%d", i), Metadata{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent register: %v", err)
	}

	active, _ := s.Store.ActiveDevices(ctx, 1)
	if len(active) != 5 {
		t.Fatalf("expected exactly 5 active devices, got %d", len(active))
	}
	for _, d := range active {
		if d.DeviceID == "old-0" || d.DeviceID == "old-1" || d.DeviceID == "old-2" {
			t.Fatalf("expected the oldest devices evicted, found %s", d.DeviceID)
		}
	}
}

func TestFailedDeactivationIsReportedAndRechecked(t *testing.T) {
	s := &slowStore{Store: memory.New(), failDeactivate: 1}
	c := &lockedClock{now: time.Now()}
	var failures []string
	reg, err := NewRegistry(s, &recordingRevoker{}, Config{
		Quota:            2,
		Now:              c.Now,
		OnCascadeFailure: func(_ int64, deviceID string, _ error) { failures = append(failures, deviceID) },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := reg.RegisterOrTouch(ctx, 1, nil, id, Metadata{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	if len(failures) != 1 || failures[0] != "a" {
		t.Fatalf("expected failed deactivation of a reported, got %v", failures)
	}
	active, _ := reg.Active(ctx, 1)
	if len(active) != 2 {
		t.Fatalf("expected quota restored after recheck, got %d active", len(active))
	}
	for _, d := range active {
		if d.DeviceID == "a" {
			t.Fatal("expected a deactivated by the post-insert recheck")
		}
	}
}
