package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

var (
	userCols   = []string{"id", "email", "password_hash", "status", "system_role", "company_id", "last_login_at", "created_at"}
	deviceCols = []string{"id", "device_id", "user_id", "company_id", "user_agent", "ip", "name", "active", "last_access_at", "created_at"}
	tokenCols  = []string{"token", "user_id", "device_id", "company_id", "expires_at", "created_at"}
)

func TestUserByEmail(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select .* from users\s+where lower\(email\) = lower\(\$1\)`).
		WithArgs("alice@acme.io").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(1), "alice@acme.io", "$argon2id$x", "ACTIVE", "USER", int64(7), nil, created))

	u, err := s.UserByEmail(context.Background(), "  alice@acme.io ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, store.StatusActive, u.Status)
	assert.Equal(t, permission.RoleUser, u.SystemRole)
	require.NotNil(t, u.CompanyID)
	assert.Equal(t, int64(7), *u.CompanyID)
	assert.Nil(t, u.LastLoginAt)

	mock.ExpectQuery(`select .* from users`).WithArgs("ghost@acme.io").WillReturnError(sql.ErrNoRows)
	_, err = s.UserByEmail(context.Background(), "ghost@acme.io")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveGrants(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`select company_id from users where id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(int64(3)))
	mock.ExpectQuery(`from user_roles ur`).
		WithArgs(int64(1), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "permission"}).
			AddRow("editor", "documents:write").
			AddRow("editor", "documents:read").
			AddRow("viewer", "documents:read").
			AddRow("empty", ""))

	g, err := s.ResolveGrants(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "empty", "viewer"}, g.Roles)
	assert.Equal(t, []string{"documents:read", "documents:write"}, g.Permissions)

	mock.ExpectQuery(`select company_id from users`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(nil))
	g, err = s.ResolveGrants(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, g.Roles)

	mock.ExpectQuery(`select company_id from users`).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
	_, err = s.ResolveGrants(context.Background(), 9)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDeviceConflict(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`insert into devices`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.InsertDevice(context.Background(), store.Device{DeviceID: "d", UserID: 1, Active: true, LastAccessAt: now, CreatedAt: now})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveDevicesOrderedOldestFirst(t *testing.T) {
	s, mock := newMock(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`where user_id = \$1 and active\s+order by last_access_at asc`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(deviceCols).
			AddRow(int64(1), "old", int64(1), nil, "ua", "ip", "Chrome", true, t0, t0).
			AddRow(int64(2), "new", int64(1), int64(4), "ua", "ip", "Firefox", true, t0.Add(time.Hour), t0))

	devices, err := s.ActiveDevices(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "old", devices[0].DeviceID)
	assert.Nil(t, devices[0].CompanyID)
	require.NotNil(t, devices[1].CompanyID)
	assert.Equal(t, int64(4), *devices[1].CompanyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateMissingDevice(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`update devices set active = false`).
		WithArgs(int64(1), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeactivateDevice(context.Background(), 1, "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinRefreshTxRotates(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`delete from refresh_tokens\s+where token = \$1\s+returning`).
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow("old", int64(1), "dev", int64(2), now.Add(time.Hour), now))
	mock.ExpectExec(`insert into refresh_tokens`).
		WithArgs("new", int64(1), "dev", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithinRefreshTx(context.Background(), func(tx store.RefreshTx) error {
		prev, err := tx.TakeRefreshToken(context.Background(), "old")
		if err != nil {
			return err
		}
		next := *prev
		next.Token = "new"
		return tx.InsertRefreshToken(context.Background(), next)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinRefreshTxRollsBackWhenTaken(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`delete from refresh_tokens`).WithArgs("old").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.WithinRefreshTx(context.Background(), func(tx store.RefreshTx) error {
		_, err := tx.TakeRefreshToken(context.Background(), "old")
		return err
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFallbackRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into blacklist_fallback`).
		WithArgs("bl:user:1", "1700000000000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into blacklist_fallback`).
		WithArgs("bl:user:2", "1700000000000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.PutFallback(context.Background(), []store.FallbackEntry{
		{Key: "bl:user:1", Value: "1700000000000", ExpiresAt: now.Add(time.Minute)},
		{Key: "bl:user:2", Value: "1700000000000", ExpiresAt: now.Add(time.Minute)},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`where expires_at > \$1 and key in \(\$2, \$3\)`).
		WithArgs(sqlmock.AnyArg(), "bl:user:1", "bl:device:1:abc").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("bl:user:1", "1700000000000"))

	got, err := s.GetFallback(context.Background(), []string{"bl:user:1", "bl:device:1:abc"}, now)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bl:user:1": "1700000000000"}, got)

	got, err = s.GetFallback(context.Background(), nil, now)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeps(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`delete from refresh_tokens where expires_at <= \$1`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`delete from blacklist_fallback where expires_at <= \$1`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`delete from devices\s+where not active`).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.DeleteExpiredRefreshTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = s.DeleteExpiredFallback(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = s.PurgeInactiveDevices(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRules(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`select ptype, v0, v1, v2 from policy_rules`).
		WillReturnRows(sqlmock.NewRows([]string{"ptype", "v0", "v1", "v2"}).
			AddRow("p", "company:1:role:editor", "documents", "delete").
			AddRow("g", "company:1:user:1", "company:1:role:editor", ""))

	rules, err := s.PolicyRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, store.PolicyRule{PType: "g", V0: "company:1:user:1", V1: "company:1:role:editor"}, rules[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}
