package policy

import (
	"context"
	"testing"

	"github.com/nur2097/template-project-sub000/store"
	"github.com/nur2097/template-project-sub000/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectEncoding(t *testing.T) {
	cid := int64(3)
	assert.Equal(t, "company:3:user:42", Subject(&cid, 42))
	assert.Equal(t, "global:user:1", Subject(nil, 1))
	assert.Equal(t, "company:3:role:editor", RoleSubject(3, "editor"))
}

func TestEnforceIsTenantScoped(t *testing.T) {
	e, err := NewCasbinEnforcer([]store.PolicyRule{
		{PType: "p", V0: RoleSubject(3, "editor"), V1: "/posts/*", V2: "update"},
		{PType: "p", V0: RoleSubject(3, "admin"), V1: "/posts/*", V2: "*"},
		{PType: "g", V0: "company:3:user:42", V1: RoleSubject(3, "editor")},
		{PType: "g", V0: "company:3:user:7", V1: RoleSubject(3, "admin")},
	})
	require.NoError(t, err)

	tenant3, tenant4 := int64(3), int64(4)

	ok, err := e.Enforce(Subject(&tenant3, 42), "/posts/1", "update")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = e.Enforce(Subject(&tenant3, 42), "/posts/1", "delete")
	assert.False(t, ok, "editor must not delete")

	ok, _ = e.Enforce(Subject(&tenant4, 42), "/posts/1", "update")
	assert.False(t, ok, "same user id in another tenant must not inherit grants")

	ok, _ = e.Enforce(Subject(&tenant3, 7), "/posts/9", "delete")
	assert.True(t, ok, "wildcard action")
}

func TestReloadSwapsRules(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e, err := LoadCasbinEnforcer(ctx, s)
	require.NoError(t, err)

	cid := int64(1)
	ok, _ := e.Enforce(Subject(&cid, 5), "reports", "read")
	assert.False(t, ok)

	s.AddPolicyRules(store.PolicyRule{PType: "p", V0: Subject(&cid, 5), V1: "reports", V2: "read"})
	require.NoError(t, e.Reload(ctx, s))

	ok, _ = e.Enforce(Subject(&cid, 5), "reports", "read")
	assert.True(t, ok)
}

func TestRejectsMalformedRules(t *testing.T) {
	_, err := NewCasbinEnforcer([]store.PolicyRule{{PType: "p", V0: "x"}})
	assert.Error(t, err)
	_, err = NewCasbinEnforcer([]store.PolicyRule{{PType: "z", V0: "x", V1: "y", V2: "z"}})
	assert.Error(t, err)
}
