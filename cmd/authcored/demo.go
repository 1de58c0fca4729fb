package main

import (
	"github.com/nur2097/template-project-sub000/password"
	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/policy"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/nur2097/template-project-sub000/store/memory"
)

const demoPassword = "correct-horse-battery"

// seedDemo creates two tenants, a member of each, an editor allowed to
// delete documents, and a platform super admin. Every account uses
// demoPassword.
func seedDemo(s *memory.Store, cfg password.Config) error {
	hasher, err := password.New(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(demoPassword)
	if err != nil {
		return err
	}

	acme, globex := int64(1), int64(2)
	s.PutCompany(store.Company{ID: acme, Slug: "acme", Name: "Acme", Active: true})
	s.PutCompany(store.Company{ID: globex, Slug: "globex", Name: "Globex", Active: true})

	users := []store.User{
		{ID: 1, Email: "editor@acme.io", CompanyID: &acme},
		{ID: 2, Email: "viewer@acme.io", CompanyID: &acme},
		{ID: 3, Email: "member@globex.io", CompanyID: &globex},
		{ID: 4, Email: "root@platform.io", SystemRole: permission.RoleSuperAdmin},
	}
	for _, u := range users {
		u.PasswordHash = hash
		u.Status = store.StatusActive
		s.PutUser(u)
	}

	s.PutRole(acme, "editor", "documents:read", "documents:write")
	s.PutRole(acme, "viewer", "documents:read")
	s.PutRole(globex, "viewer", "documents:read")
	s.AssignRoles(1, "editor")
	s.AssignRoles(2, "viewer")
	s.AssignRoles(3, "viewer")

	s.AddPolicyRules(
		store.PolicyRule{PType: "p", V0: policy.RoleSubject(acme, "editor"), V1: "documents", V2: "delete"},
		store.PolicyRule{PType: "g", V0: policy.Subject(&acme, 1), V1: policy.RoleSubject(acme, "editor")},
	)
	return nil
}
