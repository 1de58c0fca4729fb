package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nur2097/template-project-sub000/internal"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheUnavailable wraps cache write failures.
var ErrCacheUnavailable = errors.New("blacklist cache unavailable")

const tokenMarker = "1"

// rehydrateTimeout bounds a background rehydration triggered by a read.
const rehydrateTimeout = 30 * time.Second

// Config controls key naming and TTLs.
type Config struct {
	// Prefix namespaces every key, e.g. "bl".
	Prefix string
	// MaxAccessTTL is the longest an access token can live. User and device
	// cutoffs are kept this long.
	MaxAccessTTL time.Duration
	// OnFailOpen is invoked when a read degrades to "not blacklisted".
	OnFailOpen func()
	Now        func() time.Time
}

// TokenRef identifies an access token for a blacklist check.
type TokenRef struct {
	Token    string
	UserID   int64
	DeviceID string
	IssuedAt time.Time
}

// Entry is a single credential to blacklist until ExpiresAt.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

// Blacklist is safe for concurrent use.
//
// The cache holds an epoch key once it has been filled from the fallback
// table. A cache without it has lost its contents (restart or flush), so
// reads consult the fallback table until a rehydration restores the key.
type Blacklist struct {
	rdb      redis.UniversalClient
	fallback store.FallbackStore
	cfg      Config
	log      zerolog.Logger

	rehydrating atomic.Bool
	background  sync.WaitGroup
}

// New returns a Blacklist over rdb. fallback may be nil, in which case cache
// errors on reads degrade straight to "not blacklisted".
func New(rdb redis.UniversalClient, fallback store.FallbackStore, cfg Config, log zerolog.Logger) (*Blacklist, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if cfg.MaxAccessTTL <= 0 {
		return nil, errors.New("max access ttl must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "bl"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Blacklist{
		rdb:      rdb,
		fallback: fallback,
		cfg:      cfg,
		log:      log.With().Str("component", "blacklist").Logger(),
	}, nil
}

func (b *Blacklist) epochKey() string {
	return b.cfg.Prefix + ":epoch"
}

func (b *Blacklist) tokenKey(token string) string {
	return b.cfg.Prefix + ":token:" + internal.HashToken(token)
}

func (b *Blacklist) userKey(userID int64) string {
	return b.cfg.Prefix + ":user:" + strconv.FormatInt(userID, 10)
}

func (b *Blacklist) deviceKey(userID int64, deviceID string) string {
	return b.cfg.Prefix + ":device:" + strconv.FormatInt(userID, 10) + ":" + deviceID
}

// IsBlacklisted reports whether ref is invalidated. It never returns an error:
// internal failures resolve to false.
func (b *Blacklist) IsBlacklisted(ctx context.Context, ref TokenRef) bool {
	if b == nil || ref.Token == "" {
		return false
	}
	keys := []string{b.tokenKey(ref.Token), b.userKey(ref.UserID)}
	if ref.DeviceID != "" {
		keys = append(keys, b.deviceKey(ref.UserID, ref.DeviceID))
	}

	values, ok := b.lookup(ctx, keys)
	if !ok {
		return false
	}
	return evaluate(keys, values, ref.IssuedAt)
}

// IsTokenBlacklisted checks only the exact-token entry.
func (b *Blacklist) IsTokenBlacklisted(ctx context.Context, token string) bool {
	if b == nil || token == "" {
		return false
	}
	keys := []string{b.tokenKey(token)}
	values, ok := b.lookup(ctx, keys)
	if !ok {
		return false
	}
	_, hit := values[keys[0]]
	return hit
}

// lookup reads keys from the cache. An unreachable cache is replaced by the
// fallback table; a cache missing its epoch is merged with it and scheduled
// for rehydration. ok is false only when no source could answer.
func (b *Blacklist) lookup(ctx context.Context, keys []string) (map[string]string, bool) {
	values, hydrated, err := b.cacheGet(ctx, keys)
	if err != nil {
		values, err = b.fallbackGet(ctx, keys)
		if err != nil {
			b.failOpen(err)
			return nil, false
		}
		return values, true
	}
	if hydrated || b.fallback == nil {
		return values, true
	}

	b.scheduleRehydrate()
	durable, err := b.fallbackGet(ctx, keys)
	if err != nil {
		b.log.Warn().Err(err).Msg("blacklist fallback read failed while cache is cold")
		return values, true
	}
	for k, v := range durable {
		if _, ok := values[k]; !ok {
			values[k] = v
		}
	}
	return values, true
}

// evaluate walks keys in resolution order: token, user, device.
func evaluate(keys []string, values map[string]string, issuedAt time.Time) bool {
	for i, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if i == 0 {
			return true
		}
		cutoff, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if !issuedAt.After(time.UnixMilli(cutoff)) {
			return true
		}
	}
	return false
}

// cacheGet fetches keys and the epoch key in one pipeline. hydrated reports
// whether the epoch key was present.
func (b *Blacklist) cacheGet(ctx context.Context, keys []string) (values map[string]string, hydrated bool, err error) {
	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	epoch := pipe.Exists(ctx, b.epochKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	values = make(map[string]string, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		values[keys[i]] = v
	}
	n, err := epoch.Result()
	if err != nil {
		return nil, false, err
	}
	return values, n > 0, nil
}

// scheduleRehydrate starts at most one background rehydration at a time.
func (b *Blacklist) scheduleRehydrate() {
	if !b.rehydrating.CompareAndSwap(false, true) {
		return
	}
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		defer b.rehydrating.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), rehydrateTimeout)
		defer cancel()
		if _, err := b.Rehydrate(ctx); err != nil {
			b.log.Warn().Err(err).Msg("blacklist background rehydrate failed")
		}
	}()
}

// Wait blocks until any background rehydration has finished.
func (b *Blacklist) Wait() {
	if b == nil {
		return
	}
	b.background.Wait()
}

func (b *Blacklist) fallbackGet(ctx context.Context, keys []string) (map[string]string, error) {
	if b.fallback == nil {
		return nil, errors.New("no fallback store configured")
	}
	return b.fallback.GetFallback(ctx, keys, b.cfg.Now())
}

func (b *Blacklist) failOpen(err error) {
	b.log.Warn().Err(err).Msg("blacklist read failed open")
	if b.cfg.OnFailOpen != nil {
		b.cfg.OnFailOpen()
	}
}

// BlacklistToken invalidates a single credential until expiresAt. An already
// expired credential is a no-op.
func (b *Blacklist) BlacklistToken(ctx context.Context, token string, expiresAt time.Time) error {
	return b.BlacklistTokens(ctx, []Entry{{Token: token, ExpiresAt: expiresAt}})
}

// BlacklistTokens invalidates many credentials in one pipelined round-trip.
func (b *Blacklist) BlacklistTokens(ctx context.Context, entries []Entry) error {
	now := b.cfg.Now()
	rows := make([]store.FallbackEntry, 0, len(entries))
	for _, e := range entries {
		if e.Token == "" || !e.ExpiresAt.After(now) {
			continue
		}
		rows = append(rows, store.FallbackEntry{
			Key:       b.tokenKey(e.Token),
			Value:     tokenMarker,
			ExpiresAt: e.ExpiresAt,
		})
	}
	return b.write(ctx, rows)
}

// BlacklistUser invalidates every token of userID issued at or before cutoff.
// A cache failure is returned wrapped in ErrCacheUnavailable.
func (b *Blacklist) BlacklistUser(ctx context.Context, userID int64, cutoff time.Time) error {
	return b.BlacklistUsers(ctx, []int64{userID}, cutoff)
}

// BlacklistUsers applies BlacklistUser to every id in one pipelined write.
func (b *Blacklist) BlacklistUsers(ctx context.Context, userIDs []int64, cutoff time.Time) error {
	expires := b.cfg.Now().Add(b.cfg.MaxAccessTTL)
	value := strconv.FormatInt(cutoff.UnixMilli(), 10)
	rows := make([]store.FallbackEntry, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, store.FallbackEntry{Key: b.userKey(id), Value: value, ExpiresAt: expires})
	}
	return b.write(ctx, rows)
}

// BlacklistDevice invalidates every token of userID on deviceID issued at or
// before cutoff. A cache failure is returned wrapped in ErrCacheUnavailable.
func (b *Blacklist) BlacklistDevice(ctx context.Context, userID int64, deviceID string, cutoff time.Time) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	return b.write(ctx, []store.FallbackEntry{{
		Key:       b.deviceKey(userID, deviceID),
		Value:     strconv.FormatInt(cutoff.UnixMilli(), 10),
		ExpiresAt: b.cfg.Now().Add(b.cfg.MaxAccessTTL),
	}})
}

// write sets rows in the cache and mirrors them to the fallback table. Only
// the cache outcome is returned; fallback errors are logged.
func (b *Blacklist) write(ctx context.Context, rows []store.FallbackEntry) error {
	if len(rows) == 0 {
		return nil
	}
	if b.fallback != nil {
		if err := b.fallback.PutFallback(ctx, rows); err != nil {
			b.log.Warn().Err(err).Int("entries", len(rows)).Msg("blacklist fallback mirror failed")
		}
	}
	if err := b.cacheSet(ctx, rows); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (b *Blacklist) cacheSet(ctx context.Context, rows []store.FallbackEntry) error {
	now := b.cfg.Now()
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, row := range rows {
			ttl := row.ExpiresAt.Sub(now)
			if ttl <= 0 {
				continue
			}
			pipe.Set(ctx, row.Key, row.Value, ttl)
		}
		return nil
	})
	return err
}

// Rehydrate copies unexpired fallback rows back into the cache and then sets
// the epoch key. It returns the number of entries restored.
func (b *Blacklist) Rehydrate(ctx context.Context) (int, error) {
	if b.fallback == nil {
		return 0, nil
	}
	rows, err := b.fallback.LiveFallback(ctx, b.cfg.Now())
	if err != nil {
		return 0, err
	}
	if err := b.cacheSet(ctx, rows); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	epoch := strconv.FormatInt(b.cfg.Now().UnixMilli(), 10)
	if err := b.rdb.Set(ctx, b.epochKey(), epoch, 0).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	b.log.Info().Int("entries", len(rows)).Msg("blacklist rehydrated from fallback")
	return len(rows), nil
}

// EnsureHydrated rehydrates the cache when its epoch key is missing. It
// reports whether a rehydration ran.
func (b *Blacklist) EnsureHydrated(ctx context.Context) (bool, error) {
	if b.fallback == nil {
		return false, nil
	}
	n, err := b.rdb.Exists(ctx, b.epochKey()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := b.Rehydrate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep deletes expired fallback rows. The cache expires its own keys.
func (b *Blacklist) Sweep(ctx context.Context) (int64, error) {
	if b.fallback == nil {
		return 0, nil
	}
	return b.fallback.DeleteExpiredFallback(ctx, b.cfg.Now())
}
