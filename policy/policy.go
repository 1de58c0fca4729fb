// Package policy answers fine-grained (subject, resource, action) questions.
//
// Subjects are tenant-scoped: a user in company 3 is "company:3:user:42" and
// tenant roles are "company:3:role:editor". Rules are loaded from the
// credential store into a casbin enforcer; Reload swaps in a freshly built
// enforcer so in-flight checks never see a half-loaded rule set.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/nur2097/template-project-sub000/store"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Enforcer decides whether subject may perform action on resource.
type Enforcer interface {
	Enforce(subject, resource, action string) (bool, error)
}

// Subject encodes the tenant-scoped subject for userID. A nil companyID
// yields the global subject used by tenantless accounts.
func Subject(companyID *int64, userID int64) string {
	if companyID == nil {
		return "global:user:" + strconv.FormatInt(userID, 10)
	}
	return "company:" + strconv.FormatInt(*companyID, 10) + ":user:" + strconv.FormatInt(userID, 10)
}

// RoleSubject encodes a tenant role as a grouping target.
func RoleSubject(companyID int64, role string) string {
	return "company:" + strconv.FormatInt(companyID, 10) + ":role:" + role
}

// CasbinEnforcer is an Enforcer backed by an in-memory casbin model.
type CasbinEnforcer struct {
	current atomic.Pointer[casbin.SyncedEnforcer]
}

// NewCasbinEnforcer builds an enforcer holding rules.
func NewCasbinEnforcer(rules []store.PolicyRule) (*CasbinEnforcer, error) {
	e, err := build(rules)
	if err != nil {
		return nil, err
	}
	c := &CasbinEnforcer{}
	c.current.Store(e)
	return c, nil
}

// LoadCasbinEnforcer reads rules from src and builds an enforcer.
func LoadCasbinEnforcer(ctx context.Context, src store.PolicyStore) (*CasbinEnforcer, error) {
	rules, err := src.PolicyRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy rules: %w", err)
	}
	return NewCasbinEnforcer(rules)
}

// Reload rebuilds the rule set from src and swaps it in.
func (c *CasbinEnforcer) Reload(ctx context.Context, src store.PolicyStore) error {
	rules, err := src.PolicyRules(ctx)
	if err != nil {
		return fmt.Errorf("load policy rules: %w", err)
	}
	e, err := build(rules)
	if err != nil {
		return err
	}
	c.current.Store(e)
	return nil
}

// Enforce implements Enforcer.
func (c *CasbinEnforcer) Enforce(subject, resource, action string) (bool, error) {
	e := c.current.Load()
	if e == nil {
		return false, errors.New("policy enforcer not loaded")
	}
	return e.Enforce(subject, resource, action)
}

func build(rules []store.PolicyRule) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("policy model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy enforcer: %w", err)
	}

	var policies, groupings [][]string
	for _, r := range rules {
		switch r.PType {
		case "p":
			if r.V0 == "" || r.V1 == "" || r.V2 == "" {
				return nil, fmt.Errorf("policy rule %v is incomplete", r)
			}
			policies = append(policies, []string{r.V0, r.V1, r.V2})
		case "g":
			if r.V0 == "" || r.V1 == "" {
				return nil, fmt.Errorf("grouping rule %v is incomplete", r)
			}
			groupings = append(groupings, []string{r.V0, r.V1})
		default:
			return nil, fmt.Errorf("unknown policy type %q", r.PType)
		}
	}
	if len(policies) > 0 {
		if _, err := e.AddPolicies(policies); err != nil {
			return nil, fmt.Errorf("add policies: %w", err)
		}
	}
	if len(groupings) > 0 {
		if _, err := e.AddGroupingPolicies(groupings); err != nil {
			return nil, fmt.Errorf("add grouping policies: %w", err)
		}
	}
	return e, nil
}
