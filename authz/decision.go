package authz

import (
	"context"
	"fmt"

	"github.com/nur2097/template-project-sub000/permission"
	"github.com/nur2097/template-project-sub000/policy"
)

// Outcome is the tag of a Decision.
type Outcome uint8

const (
	NotApplicable Outcome = iota
	Allow
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "not_applicable"
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonSuperAdminRequired Reason = "superadmin_required"
	ReasonPolicyDenied       Reason = "policy_denied"
	ReasonRequirementUnmet   Reason = "requirement_unmet"
)

// Decision is the result of one strategy.
type Decision struct {
	Outcome  Outcome
	Reason   Reason
	Strategy string
}

// Allowed returns an Allow decision.
func Allowed() Decision { return Decision{Outcome: Allow} }

// Denied returns a Deny decision for reason.
func Denied(reason Reason) Decision { return Decision{Outcome: Deny, Reason: reason} }

// Abstain returns a NotApplicable decision.
func Abstain() Decision { return Decision{Outcome: NotApplicable} }

// Evaluation is what a strategy sees.
type Evaluation struct {
	Route     Route
	Principal *Principal
	Tenant    Tenant
}

// Strategy is one step of the decision chain.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, ev Evaluation) (Decision, error)
}

type strategyFunc struct {
	name string
	fn   func(ctx context.Context, ev Evaluation) (Decision, error)
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Decide(ctx context.Context, ev Evaluation) (Decision, error) {
	return s.fn(ctx, ev)
}

// StrategyFunc adapts fn to a named Strategy.
func StrategyFunc(name string, fn func(ctx context.Context, ev Evaluation) (Decision, error)) Strategy {
	return strategyFunc{name: name, fn: fn}
}

// Chain runs strategies in order.
type Chain []Strategy

// Decide returns the first decision that is not NotApplicable, or Allow when
// all strategies abstain. A strategy error stops the chain.
func (c Chain) Decide(ctx context.Context, ev Evaluation) (Decision, error) {
	for _, s := range c {
		d, err := s.Decide(ctx, ev)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: %w", s.Name(), err)
		}
		if d.Outcome != NotApplicable {
			d.Strategy = s.Name()
			return d, nil
		}
	}
	return Decision{Outcome: Allow, Strategy: "default"}, nil
}

// SuperAdminGate denies non-elevated callers on routes marked super-admin only.
func SuperAdminGate() Strategy {
	return StrategyFunc("superadmin_gate", func(_ context.Context, ev Evaluation) (Decision, error) {
		if ev.Route.RequireSuperAdmin && !ev.Principal.Elevated() {
			return Denied(ReasonSuperAdminRequired), nil
		}
		return Abstain(), nil
	})
}

// ElevatedBypass allows elevated callers outright.
func ElevatedBypass() Strategy {
	return StrategyFunc("elevated_bypass", func(_ context.Context, ev Evaluation) (Decision, error) {
		if ev.Principal.Elevated() {
			return Allowed(), nil
		}
		return Abstain(), nil
	})
}

// PolicyCheck consults e for routes that declare a policy. Its decision is
// final either way, so legacy requirements never run for such routes.
func PolicyCheck(e policy.Enforcer) Strategy {
	return StrategyFunc("policy", func(_ context.Context, ev Evaluation) (Decision, error) {
		if ev.Route.Policy == nil {
			return Abstain(), nil
		}
		if e == nil {
			return Denied(ReasonPolicyDenied), nil
		}
		ok, err := e.Enforce(policy.Subject(ev.Tenant.ID, ev.Principal.UserID), ev.Route.Policy.Resource, ev.Route.Policy.Action)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return Denied(ReasonPolicyDenied), nil
		}
		return Allowed(), nil
	})
}

// LegacyRequirements evaluates the route's role and permission requirements
// against the token's grants.
func LegacyRequirements() Strategy {
	return StrategyFunc("requirements", func(_ context.Context, ev Evaluation) (Decision, error) {
		if len(ev.Route.Requirements) == 0 {
			return Abstain(), nil
		}
		if permission.AnySatisfied(ev.Route.Requirements, ev.Principal.Grants()) {
			return Allowed(), nil
		}
		return Denied(ReasonRequirementUnmet), nil
	})
}

// DefaultChain is the standard order: super-admin gate, elevated bypass,
// policy, legacy requirements.
func DefaultChain(e policy.Enforcer) Chain {
	return Chain{SuperAdminGate(), ElevatedBypass(), PolicyCheck(e), LegacyRequirements()}
}
