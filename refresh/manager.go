package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nur2097/template-project-sub000/blacklist"
	"github.com/nur2097/template-project-sub000/internal"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound covers unknown, already rotated, revoked and expired tokens.
	// Callers cannot tell these apart.
	ErrNotFound = errors.New("refresh token not found")
	// ErrConsumed may be wrapped by a MintFunc to have the old token deleted
	// without a successor, e.g. when the owner is no longer active.
	ErrConsumed = errors.New("refresh token consumed without reissue")
)

// Store is the slice of the credential store the manager needs.
type Store interface {
	store.RefreshTokenStore
	WithinRefreshTx(ctx context.Context, fn func(tx store.RefreshTx) error) error
}

// Invalidator is the cache-side blacklist.
type Invalidator interface {
	IsTokenBlacklisted(ctx context.Context, token string) bool
	BlacklistTokens(ctx context.Context, entries []blacklist.Entry) error
}

// MintFunc issues the access token for a rotation. It runs inside the store
// transaction; an error rolls the rotation back unless it wraps ErrConsumed.
type MintFunc func(ctx context.Context, rec store.RefreshToken) (string, error)

// Config controls token lifetime.
type Config struct {
	TTL time.Duration
	Now func() time.Time
}

// Rotation is the outcome of a successful Rotate.
type Rotation struct {
	Previous    store.RefreshToken
	Next        store.RefreshToken
	AccessToken string
}

// Manager is safe for concurrent use.
type Manager struct {
	store Store
	cache Invalidator
	cfg   Config
	log   zerolog.Logger
}

// NewManager wires a manager. cache may be nil.
func NewManager(s Store, cache Invalidator, cfg Config, log zerolog.Logger) (*Manager, error) {
	if s == nil {
		return nil, errors.New("refresh store required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store: s,
		cache: cache,
		cfg:   cfg,
		log:   log.With().Str("component", "refresh").Logger(),
	}, nil
}

func (m *Manager) newRecord(userID int64, deviceID string, companyID *int64) (store.RefreshToken, error) {
	token, err := internal.NewRefreshToken()
	if err != nil {
		return store.RefreshToken{}, err
	}
	now := m.cfg.Now()
	return store.RefreshToken{
		Token:     token,
		UserID:    userID,
		DeviceID:  deviceID,
		CompanyID: companyID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}, nil
}

// Issue creates and persists a new refresh token for (userID, deviceID).
func (m *Manager) Issue(ctx context.Context, userID int64, deviceID string, companyID *int64) (store.RefreshToken, error) {
	if userID <= 0 || deviceID == "" {
		return store.RefreshToken{}, errors.New("user id and device id required")
	}
	rec, err := m.newRecord(userID, deviceID, companyID)
	if err != nil {
		return store.RefreshToken{}, err
	}
	if err := m.store.InsertRefreshToken(ctx, rec); err != nil {
		return store.RefreshToken{}, err
	}
	return rec, nil
}

// Rotate consumes old and issues its successor in one store transaction, then
// blacklists old in the cache on a best-effort basis. mint produces the access
// token for the new pair.
func (m *Manager) Rotate(ctx context.Context, old string, mint MintFunc) (*Rotation, error) {
	if !internal.ValidRefreshToken(old) {
		return nil, ErrNotFound
	}
	if m.cache != nil && m.cache.IsTokenBlacklisted(ctx, old) {
		return nil, ErrNotFound
	}

	var (
		out      Rotation
		consumed error
	)
	err := m.store.WithinRefreshTx(ctx, func(tx store.RefreshTx) error {
		prev, err := tx.TakeRefreshToken(ctx, old)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if prev.Expired(m.cfg.Now()) {
			// Expired rows are left to the sweep; nothing changes here.
			return ErrNotFound
		}

		access, err := mint(ctx, *prev)
		if err != nil {
			if errors.Is(err, ErrConsumed) {
				consumed = err
				out.Previous = *prev
				return nil
			}
			return err
		}

		next, err := m.newRecord(prev.UserID, prev.DeviceID, prev.CompanyID)
		if err != nil {
			return err
		}
		if err := tx.InsertRefreshToken(ctx, next); err != nil {
			return err
		}

		out = Rotation{Previous: *prev, Next: next, AccessToken: access}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// The row vanished between read and commit, e.g. a concurrent revoke.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.blacklistRotated(ctx, out.Previous)
	if consumed != nil {
		return nil, consumed
	}
	return &out, nil
}

func (m *Manager) blacklistRotated(ctx context.Context, prev store.RefreshToken) {
	if m.cache == nil {
		return
	}
	err := m.cache.BlacklistTokens(ctx, []blacklist.Entry{{Token: prev.Token, ExpiresAt: prev.ExpiresAt}})
	if err != nil {
		m.log.Warn().Err(err).
			Int64("user_id", prev.UserID).
			Str("device_id", prev.DeviceID).
			Str("token_hash", internal.ShortHash(prev.Token)).
			Msg("blacklisting rotated refresh token failed")
	}
}

// RevokeForUser blacklists and deletes every refresh token of userID.
// The cache write happens first in one batch; its failure aborts before any
// row is deleted.
func (m *Manager) RevokeForUser(ctx context.Context, userID int64) (int, error) {
	tokens, err := m.store.RefreshTokensForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := m.blacklistAll(ctx, tokens); err != nil {
		return 0, err
	}
	if _, err := m.store.DeleteRefreshTokensForUser(ctx, userID); err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// RevokeForDevice blacklists and deletes every refresh token of userID on deviceID.
func (m *Manager) RevokeForDevice(ctx context.Context, userID int64, deviceID string) (int, error) {
	tokens, err := m.store.RefreshTokensForDevice(ctx, userID, deviceID)
	if err != nil {
		return 0, err
	}
	if err := m.blacklistAll(ctx, tokens); err != nil {
		return 0, err
	}
	if _, err := m.store.DeleteRefreshTokensForDevice(ctx, userID, deviceID); err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func (m *Manager) blacklistAll(ctx context.Context, tokens []store.RefreshToken) error {
	if m.cache == nil || len(tokens) == 0 {
		return nil
	}
	entries := make([]blacklist.Entry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, blacklist.Entry{Token: t.Token, ExpiresAt: t.ExpiresAt})
	}
	if err := m.cache.BlacklistTokens(ctx, entries); err != nil {
		return fmt.Errorf("blacklist %d refresh tokens: %w", len(entries), err)
	}
	return nil
}

// ActiveSessions lists live tokens with their device, most recent first.
func (m *Manager) ActiveSessions(ctx context.Context, userID int64) ([]store.SessionSummary, error) {
	return m.store.ActiveSessions(ctx, userID, m.cfg.Now())
}

// SweepExpired deletes expired rows.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredRefreshTokens(ctx, m.cfg.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Debug().Int64("deleted", n).Msg("expired refresh tokens swept")
	}
	return n, nil
}
