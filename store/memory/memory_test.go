package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nur2097/template-project-sub000/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGrantsUnionsRolesWithinTenant(t *testing.T) {
	s := New()
	cid := int64(1)
	other := int64(2)
	s.PutUser(store.User{ID: 10, Email: "a@x.io", CompanyID: &cid, Status: store.StatusActive})
	s.PutRole(cid, "editor", "posts:read", "posts:write")
	s.PutRole(cid, "viewer", "posts:read")
	s.PutRole(other, "admin", "everything:all")
	s.AssignRoles(10, "editor", "viewer", "admin")

	g, err := s.ResolveGrants(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "viewer"}, g.Roles)
	assert.Equal(t, []string{"posts:read", "posts:write"}, g.Permissions)
}

func TestRefreshTxAppliesAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := store.RefreshToken{Token: "old", UserID: 1, DeviceID: "d", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.InsertRefreshToken(ctx, old))

	boom := errors.New("boom")
	err := s.WithinRefreshTx(ctx, func(tx store.RefreshTx) error {
		_, err := tx.TakeRefreshToken(ctx, "old")
		require.NoError(t, err)
		require.NoError(t, tx.InsertRefreshToken(ctx, store.RefreshToken{Token: "new", UserID: 1, DeviceID: "d"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.RefreshTokenCount())

	err = s.WithinRefreshTx(ctx, func(tx store.RefreshTx) error {
		if _, err := tx.TakeRefreshToken(ctx, "old"); err != nil {
			return err
		}
		return tx.InsertRefreshToken(ctx, store.RefreshToken{Token: "new", UserID: 1, DeviceID: "d"})
	})
	require.NoError(t, err)
	toks, _ := s.RefreshTokensForUser(ctx, 1)
	require.Len(t, toks, 1)
	assert.Equal(t, "new", toks[0].Token)

	err = s.WithinRefreshTx(ctx, func(tx store.RefreshTx) error {
		_, err := tx.TakeRefreshToken(ctx, "old")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActiveDevicesOldestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		_, err := s.InsertDevice(ctx, store.Device{DeviceID: id, UserID: 1, Active: true, LastAccessAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	require.NoError(t, s.TouchDevice(ctx, 1, "c", "", "", base.Add(time.Hour)))
	require.NoError(t, s.DeactivateDevice(ctx, 1, "b"))

	devs, err := s.ActiveDevices(ctx, 1)
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "a", devs[0].DeviceID)
	assert.Equal(t, "c", devs[1].DeviceID)

	_, err = s.InsertDevice(ctx, store.Device{DeviceID: "a", UserID: 1})
	assert.ErrorIs(t, err, store.ErrConflict)

	n, err := s.PurgeInactiveDevices(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
