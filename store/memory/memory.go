// Package memory is an in-process credential store for tests, local demos and
// load generation. It keeps everything in maps behind one mutex; refresh
// rotations are serialized and applied atomically at commit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/store"
)

type deviceKey struct {
	userID   int64
	deviceID string
}

type roleKey struct {
	companyID int64
	name      string
}

// Store implements store.Store.
type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	users      map[int64]store.User
	emails     map[string]int64
	companies  map[int64]store.Company
	roles      map[roleKey][]string
	userRoles  map[int64][]string
	devices    map[deviceKey]store.Device
	tokens     map[string]store.RefreshToken
	fallback   map[string]store.FallbackEntry
	policies   []store.PolicyRule
	nextDevice int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[int64]store.User),
		emails:    make(map[string]int64),
		companies: make(map[int64]store.Company),
		roles:     make(map[roleKey][]string),
		userRoles: make(map[int64][]string),
		devices:   make(map[deviceKey]store.Device),
		tokens:    make(map[string]store.RefreshToken),
		fallback:  make(map[string]store.FallbackEntry),
	}
}

// PutCompany inserts or replaces a company.
func (s *Store) PutCompany(c store.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.SystemRole == "" {
		u.SystemRole = permission.RoleUser
	}
	s.users[u.ID] = u
	s.emails[strings.ToLower(u.Email)] = u.ID
}

// SetUserStatus changes a user's lifecycle state.
func (s *Store) SetUserStatus(userID int64, status store.UserStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Status = status
		s.users[userID] = u
	}
}

// PutRole defines a tenant role and its permissions.
func (s *Store) PutRole(companyID int64, name string, permissions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleKey{companyID, name}] = append([]string(nil), permissions...)
}

// AssignRoles gives userID the named tenant roles.
func (s *Store) AssignRoles(userID int64, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = append(s.userRoles[userID], roles...)
}

// AddPolicyRules appends fine-grained policy rules.
func (s *Store) AddPolicyRules(rules ...store.PolicyRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, rules...)
}

func (s *Store) UserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) UserByID(_ context.Context, id int64) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) UserIDsByCompany(_ context.Context, companyID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, u := range s.users {
		if u.CompanyID != nil && *u.CompanyID == companyID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CompanyByID(_ context.Context, id int64) (*store.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ResolveGrants(_ context.Context, userID int64) (store.Grants, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return store.Grants{}, store.ErrNotFound
	}
	var companyID int64
	if u.CompanyID != nil {
		companyID = *u.CompanyID
	}
	var roles, perms []string
	for _, name := range s.userRoles[userID] {
		rolePerms, ok := s.roles[roleKey{companyID, name}]
		if !ok {
			continue
		}
		roles = append(roles, name)
		perms = append(perms, rolePerms...)
	}
	return store.Grants{Roles: permission.Union(roles), Permissions: permission.Union(perms)}, nil
}

func (s *Store) TouchLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) DeviceByID(_ context.Context, userID int64, deviceID string) (*store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceKey{userID, deviceID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) InsertDevice(_ context.Context, d store.Device) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deviceKey{d.UserID, d.DeviceID}
	if _, exists := s.devices[key]; exists {
		return nil, store.ErrConflict
	}
	s.nextDevice++
	d.ID = s.nextDevice
	s.devices[key] = d
	return &d, nil
}

func (s *Store) TouchDevice(_ context.Context, userID int64, deviceID, userAgent, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deviceKey{userID, deviceID}
	d, ok := s.devices[key]
	if !ok {
		return store.ErrNotFound
	}
	d.Active = true
	d.LastAccessAt = at
	if userAgent != "" {
		d.UserAgent = userAgent
	}
	if ip != "" {
		d.IP = ip
	}
	s.devices[key] = d
	return nil
}

func (s *Store) ActiveDevices(_ context.Context, userID int64) ([]store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Device
	for key, d := range s.devices {
		if key.userID == userID && d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessAt.Equal(out[j].LastAccessAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAccessAt.Before(out[j].LastAccessAt)
	})
	return out, nil
}

func (s *Store) ListDevices(_ context.Context, userID int64) ([]store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Device
	for key, d := range s.devices {
		if key.userID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessAt.After(out[j].LastAccessAt) })
	return out, nil
}

func (s *Store) DeactivateDevice(_ context.Context, userID int64, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deviceKey{userID, deviceID}
	d, ok := s.devices[key]
	if !ok {
		return store.ErrNotFound
	}
	d.Active = false
	s.devices[key] = d
	return nil
}

func (s *Store) PurgeInactiveDevices(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, d := range s.devices {
		if !d.Active && d.LastAccessAt.Before(before) {
			delete(s.devices, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertRefreshToken(_ context.Context, t store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTokenLocked(t)
}

func (s *Store) insertTokenLocked(t store.RefreshToken) error {
	if _, exists := s.tokens[t.Token]; exists {
		return store.ErrConflict
	}
	s.tokens[t.Token] = t
	return nil
}

func (s *Store) RefreshTokensForUser(_ context.Context, userID int64) ([]store.RefreshToken, error) {
	return s.filterTokens(func(t store.RefreshToken) bool { return t.UserID == userID }), nil
}

func (s *Store) RefreshTokensForDevice(_ context.Context, userID int64, deviceID string) ([]store.RefreshToken, error) {
	return s.filterTokens(func(t store.RefreshToken) bool {
		return t.UserID == userID && t.DeviceID == deviceID
	}), nil
}

func (s *Store) filterTokens(match func(store.RefreshToken) bool) []store.RefreshToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RefreshToken
	for _, t := range s.tokens {
		if match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) deleteTokens(match func(store.RefreshToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.tokens {
		if match(t) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

func (s *Store) DeleteRefreshTokensForUser(_ context.Context, userID int64) (int64, error) {
	return s.deleteTokens(func(t store.RefreshToken) bool { return t.UserID == userID }), nil
}

func (s *Store) DeleteRefreshTokensForDevice(_ context.Context, userID int64, deviceID string) (int64, error) {
	return s.deleteTokens(func(t store.RefreshToken) bool {
		return t.UserID == userID && t.DeviceID == deviceID
	}), nil
}

func (s *Store) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	return s.deleteTokens(func(t store.RefreshToken) bool { return t.Expired(now) }), nil
}

func (s *Store) ActiveSessions(_ context.Context, userID int64, now time.Time) ([]store.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.SessionSummary
	for _, t := range s.tokens {
		if t.UserID != userID || t.Expired(now) {
			continue
		}
		d, ok := s.devices[deviceKey{userID, t.DeviceID}]
		if !ok || !d.Active {
			continue
		}
		out = append(out, store.SessionSummary{
			DeviceID:     d.DeviceID,
			DeviceName:   d.Name,
			UserAgent:    d.UserAgent,
			IP:           d.IP,
			LastAccessAt: d.LastAccessAt,
			CreatedAt:    t.CreatedAt,
			ExpiresAt:    t.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessAt.After(out[j].LastAccessAt) })
	return out, nil
}

type refreshTx struct {
	s       *Store
	taken   []string
	inserts []store.RefreshToken
}

func (tx *refreshTx) TakeRefreshToken(_ context.Context, token string) (*store.RefreshToken, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	t, ok := tx.s.tokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx.taken = append(tx.taken, token)
	return &t, nil
}

func (tx *refreshTx) InsertRefreshToken(_ context.Context, t store.RefreshToken) error {
	tx.inserts = append(tx.inserts, t)
	return nil
}

// WithinRefreshTx serializes rotations and applies the buffered delete and
// inserts together. A row revoked between read and commit fails the commit.
func (s *Store) WithinRefreshTx(ctx context.Context, fn func(tx store.RefreshTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &refreshTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tx.taken {
		if _, ok := s.tokens[token]; !ok {
			return store.ErrNotFound
		}
	}
	for _, t := range tx.inserts {
		if _, exists := s.tokens[t.Token]; exists {
			return store.ErrConflict
		}
	}
	for _, token := range tx.taken {
		delete(s.tokens, token)
	}
	for _, t := range tx.inserts {
		s.tokens[t.Token] = t
	}
	return nil
}

func (s *Store) PutFallback(_ context.Context, entries []store.FallbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.fallback[e.Key] = e
	}
	return nil
}

func (s *Store) GetFallback(_ context.Context, keys []string, now time.Time) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if e, ok := s.fallback[k]; ok && e.ExpiresAt.After(now) {
			out[k] = e.Value
		}
	}
	return out, nil
}

func (s *Store) LiveFallback(_ context.Context, now time.Time) ([]store.FallbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FallbackEntry
	for _, e := range s.fallback {
		if e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) DeleteExpiredFallback(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.fallback {
		if !e.ExpiresAt.After(now) {
			delete(s.fallback, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) PolicyRules(_ context.Context) ([]store.PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.PolicyRule(nil), s.policies...), nil
}

// RefreshTokenCount returns the number of stored refresh tokens.
func (s *Store) RefreshTokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
