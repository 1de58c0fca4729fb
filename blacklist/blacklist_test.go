package blacklist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeFallback struct {
	mu      sync.Mutex
	rows    map[string]store.FallbackEntry
	failGet bool
	failPut bool
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{rows: make(map[string]store.FallbackEntry)}
}

func (f *fakeFallback) PutFallback(_ context.Context, entries []store.FallbackEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errors.New("fallback down")
	}
	for _, e := range entries {
		f.rows[e.Key] = e
	}
	return nil
}

func (f *fakeFallback) GetFallback(_ context.Context, keys []string, now time.Time) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("fallback down")
	}
	out := make(map[string]string)
	for _, k := range keys {
		if e, ok := f.rows[k]; ok && e.ExpiresAt.After(now) {
			out[k] = e.Value
		}
	}
	return out, nil
}

func (f *fakeFallback) LiveFallback(_ context.Context, now time.Time) ([]store.FallbackEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.FallbackEntry
	for _, e := range f.rows {
		if e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFallback) DeleteExpiredFallback(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, e := range f.rows {
		if !e.ExpiresAt.After(now) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func newTestBlacklist(t *testing.T, fb *fakeFallback) (*Blacklist, *miniredis.Miniredis, *int) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	failOpen := 0
	var fallback store.FallbackStore
	if fb != nil {
		fallback = fb
	}
	bl, err := New(rdb, fallback, Config{
		Prefix:       "bl",
		MaxAccessTTL: 15 * time.Minute,
		OnFailOpen:   func() { failOpen++ },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bl, mr, &failOpen
}

func TestExactTokenEntry(t *testing.T) {
	bl, mr, _ := newTestBlacklist(t, newFakeFallback())
	ctx := context.Background()

	ref := TokenRef{Token: "access-1", UserID: 1, DeviceID: "d1", IssuedAt: time.Now()}
	if bl.IsBlacklisted(ctx, ref) {
		t.Fatal("absent entry must mean not blacklisted")
	}
	if err := bl.BlacklistToken(ctx, "access-1", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if !bl.IsBlacklisted(ctx, ref) {
		t.Fatal("expected token to be blacklisted")
	}

	key := bl.tokenKey("access-1")
	if !mr.Exists(key) {
		t.Fatal("expected hashed token key in cache")
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 5*time.Minute {
		t.Fatalf("expected ttl bounded by remaining lifetime, got %v", ttl)
	}
	for _, k := range mr.Keys() {
		if k == "bl:token:access-1" {
			t.Fatal("plaintext token must not appear in cache keys")
		}
	}
}

func TestBlacklistUserIssuedAtBoundary(t *testing.T) {
	bl, mr, _ := newTestBlacklist(t, newFakeFallback())
	ctx := context.Background()

	cutoff := time.Now()
	if err := bl.BlacklistUser(ctx, 42, cutoff); err != nil {
		t.Fatalf("BlacklistUser: %v", err)
	}

	before := TokenRef{Token: "a", UserID: 42, DeviceID: "d", IssuedAt: cutoff.Add(-time.Second)}
	after := TokenRef{Token: "b", UserID: 42, DeviceID: "d", IssuedAt: cutoff.Add(time.Second)}
	equal := TokenRef{Token: "c", UserID: 42, DeviceID: "d", IssuedAt: time.UnixMilli(cutoff.UnixMilli())}
	other := TokenRef{Token: "d", UserID: 43, DeviceID: "d", IssuedAt: cutoff.Add(-time.Second)}

	if !bl.IsBlacklisted(ctx, before) {
		t.Fatal("token issued before cutoff must be blacklisted")
	}
	if bl.IsBlacklisted(ctx, after) {
		t.Fatal("token issued after cutoff must stay valid")
	}
	if !bl.IsBlacklisted(ctx, equal) {
		t.Fatal("token issued exactly at cutoff must be blacklisted")
	}
	if bl.IsBlacklisted(ctx, other) {
		t.Fatal("other users must not be affected")
	}
	if ttl := mr.TTL("bl:user:42"); ttl < 14*time.Minute || ttl > 15*time.Minute {
		t.Fatalf("expected user entry ttl = max access ttl, got %v", ttl)
	}
}

func TestBlacklistDeviceScope(t *testing.T) {
	bl, _, _ := newTestBlacklist(t, newFakeFallback())
	ctx := context.Background()

	cutoff := time.Now()
	if err := bl.BlacklistDevice(ctx, 7, "dev-a", cutoff); err != nil {
		t.Fatalf("BlacklistDevice: %v", err)
	}
	if !bl.IsBlacklisted(ctx, TokenRef{Token: "x", UserID: 7, DeviceID: "dev-a", IssuedAt: cutoff.Add(-time.Minute)}) {
		t.Fatal("expected device-scoped token to be blacklisted")
	}
	if bl.IsBlacklisted(ctx, TokenRef{Token: "y", UserID: 7, DeviceID: "dev-b", IssuedAt: cutoff.Add(-time.Minute)}) {
		t.Fatal("other devices of the same user must not be affected")
	}
	if bl.IsBlacklisted(ctx, TokenRef{Token: "z", UserID: 7, DeviceID: "dev-a", IssuedAt: cutoff.Add(time.Second)}) {
		t.Fatal("tokens minted after the cutoff must stay valid")
	}
}

func TestReadFallsBackToStoreOnCacheOutage(t *testing.T) {
	fb := newFakeFallback()
	bl, mr, failOpen := newTestBlacklist(t, fb)
	ctx := context.Background()

	cutoff := time.Now()
	if err := bl.BlacklistUser(ctx, 5, cutoff); err != nil {
		t.Fatalf("BlacklistUser: %v", err)
	}
	mr.Close()

	if !bl.IsBlacklisted(ctx, TokenRef{Token: "t", UserID: 5, DeviceID: "d", IssuedAt: cutoff.Add(-time.Second)}) {
		t.Fatal("expected fallback table to answer during cache outage")
	}
	if *failOpen != 0 {
		t.Fatalf("fallback hit must not count as fail-open, got %d", *failOpen)
	}
}

func TestReadFailsOpenWhenCacheAndFallbackFail(t *testing.T) {
	fb := newFakeFallback()
	bl, mr, failOpen := newTestBlacklist(t, fb)
	ctx := context.Background()

	if err := bl.BlacklistToken(ctx, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	mr.Close()
	fb.failGet = true

	if bl.IsBlacklisted(ctx, TokenRef{Token: "tok", UserID: 1, IssuedAt: time.Now()}) {
		t.Fatal("expected fail-open result")
	}
	if bl.IsTokenBlacklisted(ctx, "tok") {
		t.Fatal("expected fail-open result for exact check")
	}
	if *failOpen != 2 {
		t.Fatalf("expected 2 fail-open events, got %d", *failOpen)
	}
}

func TestMassRevocationWritesFailClosed(t *testing.T) {
	bl, mr, _ := newTestBlacklist(t, newFakeFallback())
	ctx := context.Background()
	mr.Close()

	if err := bl.BlacklistUser(ctx, 1, time.Now()); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable from BlacklistUser, got %v", err)
	}
	if err := bl.BlacklistDevice(ctx, 1, "d", time.Now()); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable from BlacklistDevice, got %v", err)
	}
}

func TestBulkWriteUsesSinglePipeline(t *testing.T) {
	bl, mr, _ := newTestBlacklist(t, newFakeFallback())
	ctx := context.Background()

	entries := make([]Entry, 0, 50)
	for i := 0; i < 50; i++ {
		entries = append(entries, Entry{Token: fmt.Sprintf("tok-%d", i), ExpiresAt: time.Now().Add(time.Hour)})
	}
	entries = append(entries, Entry{Token: "expired", ExpiresAt: time.Now().Add(-time.Minute)})

	if err := bl.rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	before := mr.CommandCount()
	if err := bl.BlacklistTokens(ctx, entries); err != nil {
		t.Fatalf("BlacklistTokens: %v", err)
	}
	if got := len(mr.Keys()); got != 50 {
		t.Fatalf("expected 50 keys, got %d", got)
	}
	// one SET per entry, no per-entry round trips beyond the pipeline body
	if delta := mr.CommandCount() - before; delta != 50 {
		t.Fatalf("expected 50 commands in the pipeline, got %d", delta)
	}
	if bl.IsTokenBlacklisted(ctx, "expired") {
		t.Fatal("already expired credentials are not written")
	}
}

func TestRehydrateRestoresCacheFromFallback(t *testing.T) {
	fb := newFakeFallback()
	bl, mr, _ := newTestBlacklist(t, fb)
	ctx := context.Background()

	cutoff := time.Now()
	if err := bl.BlacklistUser(ctx, 9, cutoff); err != nil {
		t.Fatalf("BlacklistUser: %v", err)
	}
	if err := bl.BlacklistToken(ctx, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	mr.FlushAll()

	n, err := bl.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored entries, got %d", n)
	}
	if !mr.Exists("bl:user:9") {
		t.Fatal("expected user entry restored to cache")
	}
}

func TestSweepDropsExpiredFallbackRows(t *testing.T) {
	fb := newFakeFallback()
	bl, _, _ := newTestBlacklist(t, fb)
	fb.rows["bl:token:old"] = store.FallbackEntry{Key: "bl:token:old", Value: "1", ExpiresAt: time.Now().Add(-time.Hour)}
	fb.rows["bl:token:new"] = store.FallbackEntry{Key: "bl:token:new", Value: "1", ExpiresAt: time.Now().Add(time.Hour)}

	n, err := bl.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || len(fb.rows) != 1 {
		t.Fatalf("expected one expired row removed, got n=%d remaining=%d", n, len(fb.rows))
	}
}

func TestCutoffsSurviveCacheFlush(t *testing.T) {
	fb := newFakeFallback()
	bl, mr, failOpen := newTestBlacklist(t, fb)
	ctx := context.Background()

	cutoff := time.Now()
	if err := bl.BlacklistUser(ctx, 42, cutoff); err != nil {
		t.Fatalf("BlacklistUser: %v", err)
	}
	if err := bl.BlacklistDevice(ctx, 43, "dev", cutoff); err != nil {
		t.Fatalf("BlacklistDevice: %v", err)
	}
	if _, err := bl.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	mr.FlushAll()

	issued := cutoff.Add(-time.Second)
	if !bl.IsBlacklisted(ctx, TokenRef{Token: "a", UserID: 42, DeviceID: "d", IssuedAt: issued}) {
		t.Fatal("user cutoff must hold after the cache lost its contents")
	}
	if !bl.IsBlacklisted(ctx, TokenRef{Token: "b", UserID: 43, DeviceID: "dev", IssuedAt: issued}) {
		t.Fatal("device cutoff must hold after the cache lost its contents")
	}
	if *failOpen != 0 {
		t.Fatalf("a cold cache is not a fail-open, got %d", *failOpen)
	}

	bl.Wait()
	if !mr.Exists("bl:epoch") || !mr.Exists("bl:user:42") {
		t.Fatal("expected the read to trigger a rehydration")
	}
}

func TestColdCacheStillAnswersWhenFallbackFails(t *testing.T) {
	fb := newFakeFallback()
	bl, _, _ := newTestBlacklist(t, fb)
	ctx := context.Background()

	if err := bl.BlacklistToken(ctx, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	fb.mu.Lock()
	fb.failGet = true
	fb.mu.Unlock()

	if !bl.IsTokenBlacklisted(ctx, "tok") {
		t.Fatal("cache entries must still be honoured")
	}
	bl.Wait()
}

func TestEnsureHydratedOnlyWhenEpochMissing(t *testing.T) {
	fb := newFakeFallback()
	bl, mr, _ := newTestBlacklist(t, fb)
	ctx := context.Background()

	if err := bl.BlacklistUser(ctx, 9, time.Now()); err != nil {
		t.Fatalf("BlacklistUser: %v", err)
	}
	ran, err := bl.EnsureHydrated(ctx)
	if err != nil || !ran {
		t.Fatalf("expected first call to rehydrate, ran=%v err=%v", ran, err)
	}
	ran, err = bl.EnsureHydrated(ctx)
	if err != nil || ran {
		t.Fatalf("expected no-op with epoch present, ran=%v err=%v", ran, err)
	}

	mr.FlushAll()
	ran, err = bl.EnsureHydrated(ctx)
	if err != nil || !ran {
		t.Fatalf("expected rehydrate after flush, ran=%v err=%v", ran, err)
	}
	if !mr.Exists("bl:user:9") {
		t.Fatal("expected user entry restored")
	}
}
