// Package guard implements the guard engine: evaluating
// `/guard name before|after op:kind = when […]` policies before and after
// dispatched operations, denying or allowing them.
//
// Guard `when` conditions reference capability-style facts about the
// operation (@mx.taint, @input.any.mx, …). Rather than hand-roll a second
// small expression evaluator duplicating internal/eval's, guard conditions
// that reduce to capability-policy questions ("does this operation's
// taint intersect a denied set") are compiled into Mangle queries and
// evaluated by github.com/google/mangle's fact store/analysis engine — a
// declarative logic engine is the natural fit for "given these facts,
// is this allowed" (see DESIGN.md).
package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/security"
)

// Condition is a compiled guard predicate: given a MatchContext, does this
// arm match?
type Condition func(mctx environment.MatchContext) bool

// Arm is one `<cond> => deny "…" | allow` arm of a guard's when-block.
type Arm struct {
	Cond   Condition
	Deny   bool
	Reason string
}

// Clause compiles a guard's arms into an environment.GuardEvaluator,
// evaluated under first-match semantics.
func Clause(arms []Arm) environment.GuardEvaluator {
	return func(_ context.Context, mctx environment.MatchContext) (bool, string, error) {
		for _, arm := range arms {
			if arm.Cond == nil || arm.Cond(mctx) {
				if arm.Deny {
					return false, arm.Reason, nil
				}
				return true, "", nil
			}
		}
		return true, "", nil
	}
}

// TaintIncludes builds a Condition for the common
// `@input.any.mx.taint.includes("src:X")` shape from scenario 4.
func TaintIncludes(taint string) Condition {
	return func(mctx environment.MatchContext) bool {
		return mctx.Mx.HasTaint(taint)
	}
}

// Always matches unconditionally — the `*` wildcard arm.
func Always(mctx environment.MatchContext) bool { return true }

// PolicyViolation builds a Condition for a `policy("name")`-shaped guard
// arm from a Mangle-backed CapabilityEvaluator: it matches when the
// operation's descriptor carries a label or taint the named policy does
// not allow, the shape a `deny` arm pairs with to block anything outside
// the policy's capability grant.
func PolicyViolation(ev *CapabilityEvaluator) Condition {
	return func(mctx environment.MatchContext) bool {
		for _, l := range mctx.Mx.Labels {
			if !ev.Allowed(l) {
				return true
			}
		}
		for _, t := range mctx.Mx.Taint {
			if !ev.Allowed(t) {
				return true
			}
		}
		return false
	}
}

// Consult runs every guard installed in env (outer to inner) whose
// Operation matches op and Phase matches phase, first-match across guards
// in installation order; any guard's deny aborts the operation.
func Consult(ctx context.Context, env *environment.Environment, op string, phase environment.GuardPhase, mctx environment.MatchContext) error {
	mctx.Operation = op
	for _, g := range env.Guards() {
		if g.Operation != op || g.Phase != phase {
			continue
		}
		allowed, reason, err := g.Eval(ctx, mctx)
		if err != nil {
			return err
		}
		if !allowed {
			return mlerr.New(mlerr.GuardDenied, "%s", reason).WithContext("guard", g.Name, "op", op)
		}
	}
	return nil
}

// CapabilityEvaluator evaluates a policy-shaped guard ("is this operation's
// taint/labels within the allow set and outside the deny set") using
// Mangle's fact store and analysis engine rather than a hand-rolled
// intersection check — the same declarative-facts-in,
// decision-out shape Mangle is built for.
type CapabilityEvaluator struct {
	store factstore.FactStore
}

var (
	allowedSym = ast.PredicateSym{Symbol: "allowed", Arity: 1}
	deniedSym = ast.PredicateSym{Symbol: "denied", Arity: 1}
)

// NewCapabilityEvaluator builds a Mangle-backed evaluator seeded with the
// policy's allow/deny lists as EDB facts: allowed(<label>). / denied(<label>).
func NewCapabilityEvaluator(policy *security.Policy) (*CapabilityEvaluator, error) {
	store := factstore.NewSimpleInMemoryStore()
	if policy != nil {
		for _, l := range policy.Allow {
			if err := assertAtom(store, allowedSym, l); err != nil {
				return nil, err
			}
		}
		for _, l := range policy.Deny {
			if err := assertAtom(store, deniedSym, l); err != nil {
				return nil, err
			}
		}
	}
	return &CapabilityEvaluator{store: store}, nil
}

func assertAtom(store factstore.FactStore, sym ast.PredicateSym, arg string) error {
	name, err := ast.Name(fmt.Sprintf("/%s", sanitizeAtomName(arg)))
	if err != nil {
		return err
	}
	store.Add(ast.Atom{Predicate: sym, Args: []ast.BaseTerm{name}})
	return nil
}

func sanitizeAtomName(s string) string {
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// Allowed reports whether label has an `allowed(label)` fact and no
// `denied(label)` fact in the policy store — deny always wins on conflict.
func (c *CapabilityEvaluator) Allowed(label string) bool {
	name, err := ast.Name(fmt.Sprintf("/%s", sanitizeAtomName(label)))
	if err != nil {
		return false
	}
	if c.hasFact(deniedSym, name) {
		return false
	}
	return c.hasFact(allowedSym, name)
}

func (c *CapabilityEvaluator) hasFact(sym ast.PredicateSym, name ast.BaseTerm) bool {
	found := false
	_ = c.store.GetFacts(ast.Atom{Predicate: sym, Args: []ast.BaseTerm{name}}, func(ast.Atom) error {
		found = true
		return nil
	})
	return found
}
