// Package postgres implements store.Store on PostgreSQL through database/sql
// and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/store"
)

//go:embed schema.sql
var schema string

const pgErrUniqueViolation = "23505"

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with pool defaults suited to an auth workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

/*
====================================
USERS / COMPANIES / GRANTS
====================================
*/

const userColumns = `id, email, password_hash, status, system_role, company_id, last_login_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var (
		u         store.User
		status    string
		role      string
		companyID sql.NullInt64
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &status, &role, &companyID, &lastLogin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = store.UserStatus(status)
	u.SystemRole = permission.SystemRole(role)
	u.CompanyID = int64Ptr(companyID)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(email) = lower($1)
	`, strings.TrimSpace(email)))
}

func (s *Store) UserByID(ctx context.Context, id int64) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id))
}

func (s *Store) UserIDsByCompany(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `select id from users where company_id = $1 order by id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CompanyByID(ctx context.Context, id int64) (*store.Company, error) {
	var c store.Company
	err := s.db.QueryRowContext(ctx, `
		select id, slug, name, active
		from companies
		where id = $1
	`, id).Scan(&c.ID, &c.Slug, &c.Name, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveGrants returns the user's roles within their own company and the
// union of the permissions those roles carry.
func (s *Store) ResolveGrants(ctx context.Context, userID int64) (store.Grants, error) {
	var companyID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `select company_id from users where id = $1`, userID).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Grants{}, store.ErrNotFound
	}
	if err != nil {
		return store.Grants{}, err
	}
	if !companyID.Valid {
		return store.Grants{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		select r.name, coalesce(rp.permission, '')
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		where ur.user_id = $1 and r.company_id = $2
	`, userID, companyID.Int64)
	if err != nil {
		return store.Grants{}, err
	}
	defer rows.Close()

	var roles, perms []string
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return store.Grants{}, err
		}
		roles = append(roles, role)
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return store.Grants{}, err
	}
	return store.Grants{Roles: permission.Union(roles), Permissions: permission.Union(perms)}, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, userID, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

/*
====================================
DEVICES
====================================
*/

const deviceColumns = `id, device_id, user_id, company_id, user_agent, ip, name, active, last_access_at, created_at`

func scanDevice(row interface{ Scan(...any) error }) (store.Device, error) {
	var (
		d         store.Device
		companyID sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.DeviceID, &d.UserID, &companyID, &d.UserAgent, &d.IP, &d.Name, &d.Active, &d.LastAccessAt, &d.CreatedAt); err != nil {
		return store.Device{}, err
	}
	d.CompanyID = int64Ptr(companyID)
	return d, nil
}

func (s *Store) DeviceByID(ctx context.Context, userID int64, deviceID string) (*store.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `
		select `+deviceColumns+`
		from devices
		where user_id = $1 and device_id = $2
	`, userID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) InsertDevice(ctx context.Context, d store.Device) (*store.Device, error) {
	out, err := scanDevice(s.db.QueryRowContext(ctx, `
		insert into devices (device_id, user_id, company_id, user_agent, ip, name, active, last_access_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+deviceColumns,
		d.DeviceID, d.UserID, nullInt64(d.CompanyID), d.UserAgent, d.IP, d.Name, d.Active, d.LastAccessAt, d.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

// TouchDevice keeps the stored agent and address when the new ones are empty.
func (s *Store) TouchDevice(ctx context.Context, userID int64, deviceID, userAgent, ip string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update devices
		set active = true,
			last_access_at = $5,
			user_agent = coalesce(nullif($3, ''), user_agent),
			ip = coalesce(nullif($4, ''), ip)
		where user_id = $1 and device_id = $2
	`, userID, deviceID, userAgent, ip, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]store.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ActiveDevices(ctx context.Context, userID int64) ([]store.Device, error) {
	return s.queryDevices(ctx, `
		select `+deviceColumns+`
		from devices
		where user_id = $1 and active
		order by last_access_at asc, id asc
	`, userID)
}

func (s *Store) ListDevices(ctx context.Context, userID int64) ([]store.Device, error) {
	return s.queryDevices(ctx, `
		select `+deviceColumns+`
		from devices
		where user_id = $1
		order by last_access_at desc, id desc
	`, userID)
}

func (s *Store) DeactivateDevice(ctx context.Context, userID int64, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `
		update devices set active = false
		where user_id = $1 and device_id = $2
	`, userID, deviceID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) PurgeInactiveDevices(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from devices
		where not active and last_access_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

/*
====================================
REFRESH TOKENS
====================================
*/

const tokenColumns = `token, user_id, device_id, company_id, expires_at, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, t store.RefreshToken) error {
	_, err := db.ExecContext(ctx, `
		insert into refresh_tokens (`+tokenColumns+`)
		values ($1, $2, $3, $4, $5, $6)
	`, t.Token, t.UserID, t.DeviceID, nullInt64(t.CompanyID), t.ExpiresAt, t.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func scanToken(row interface{ Scan(...any) error }) (store.RefreshToken, error) {
	var (
		t         store.RefreshToken
		companyID sql.NullInt64
	)
	if err := row.Scan(&t.Token, &t.UserID, &t.DeviceID, &companyID, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return store.RefreshToken{}, err
	}
	t.CompanyID = int64Ptr(companyID)
	return t, nil
}

func (s *Store) InsertRefreshToken(ctx context.Context, t store.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, t)
}

func (s *Store) queryTokens(ctx context.Context, query string, args ...any) ([]store.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) RefreshTokensForUser(ctx context.Context, userID int64) ([]store.RefreshToken, error) {
	return s.queryTokens(ctx, `select `+tokenColumns+` from refresh_tokens where user_id = $1`, userID)
}

func (s *Store) RefreshTokensForDevice(ctx context.Context, userID int64, deviceID string) ([]store.RefreshToken, error) {
	return s.queryTokens(ctx, `
		select `+tokenColumns+`
		from refresh_tokens
		where user_id = $1 and device_id = $2
	`, userID, deviceID)
}

func (s *Store) DeleteRefreshTokensForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteRefreshTokensForDevice(ctx context.Context, userID int64, deviceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_tokens
		where user_id = $1 and device_id = $2
	`, userID, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ActiveSessions(ctx context.Context, userID int64, now time.Time) ([]store.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select d.device_id, d.name, d.user_agent, d.ip, d.last_access_at, rt.created_at, rt.expires_at
		from refresh_tokens rt
		join devices d on d.user_id = rt.user_id and d.device_id = rt.device_id
		where rt.user_id = $1 and rt.expires_at > $2 and d.active
		order by d.last_access_at desc
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionSummary
	for rows.Next() {
		var ss store.SessionSummary
		if err := rows.Scan(&ss.DeviceID, &ss.DeviceName, &ss.UserAgent, &ss.IP, &ss.LastAccessAt, &ss.CreatedAt, &ss.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

type refreshTx struct {
	tx *sql.Tx
}

// TakeRefreshToken deletes and returns the row in one statement. A concurrent
// rotation of the same token blocks on the row lock and then sees no row.
func (r refreshTx) TakeRefreshToken(ctx context.Context, token string) (*store.RefreshToken, error) {
	t, err := scanToken(r.tx.QueryRowContext(ctx, `
		delete from refresh_tokens
		where token = $1
		returning `+tokenColumns,
		token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r refreshTx) InsertRefreshToken(ctx context.Context, t store.RefreshToken) error {
	return insertRefreshToken(ctx, r.tx, t)
}

func (s *Store) WithinRefreshTx(ctx context.Context, fn func(tx store.RefreshTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(refreshTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

/*
====================================
BLACKLIST FALLBACK
====================================
*/

// PutFallback upserts entries in one transaction. A key written twice keeps
// the newer value and the later expiry.
func (s *Store) PutFallback(ctx context.Context, entries []store.FallbackEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			insert into blacklist_fallback (key, value, expires_at)
			values ($1, $2, $3)
			on conflict (key) do update
			set value = excluded.value,
				expires_at = greatest(blacklist_fallback.expires_at, excluded.expires_at)
		`, e.Key, e.Value, e.ExpiresAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetFallback(ctx context.Context, keys []string, now time.Time) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(keys)+1)
	args = append(args, now)
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		args = append(args, k)
		placeholders[i] = fmt.Sprintf("$%d", i+2)
	}

	rows, err := s.db.QueryContext(ctx, `
		select key, value
		from blacklist_fallback
		where expires_at > $1 and key in (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) LiveFallback(ctx context.Context, now time.Time) ([]store.FallbackEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, value, expires_at
		from blacklist_fallback
		where expires_at > $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.FallbackEntry
	for rows.Next() {
		var e store.FallbackEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExpiredFallback(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from blacklist_fallback where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

/*
====================================
POLICY RULES
====================================
*/

func (s *Store) PolicyRules(ctx context.Context) ([]store.PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx, `select ptype, v0, v1, v2 from policy_rules order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PolicyRule
	for rows.Next() {
		var r store.PolicyRule
		if err := rows.Scan(&r.PType, &r.V0, &r.V1, &r.V2); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

/*
====================================
HELPERS
====================================
*/

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
