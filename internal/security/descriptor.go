// Package security implements the SecurityDescriptor and taint model that
// travels with every value flowing through the evaluator: labels, taint,
// provenance sources and an optional policy reference.
package security

import "strings"

// Descriptor is the {labels, taint, sources, policy} bundle carried by every
// Variable and StructuredValue. Descriptors are immutable; every operation
// that "adds" to a descriptor returns a new one.
type Descriptor struct {
	Labels  []string
	Taint   []string
	Sources []string
	Policy  *Policy
}

// Policy is a reference to a named capability allow/deny configuration.
// Scope identifies the environment layer the policy was registered in, used
// by Merge to decide "last non-null wins within same scope, union across
// scopes".
type Policy struct {
	Name  string
	Scope string
	Allow []string
	Deny  []string
}

// Empty returns a zero-value descriptor. Defined for readability at call
// sites that build one up incrementally.
func Empty() Descriptor {
	return Descriptor{}
}

// protectedPrefix marks taint/label values that can never be stripped once
// attached to a value's ancestry.
const protectedPrefix = "src:"

// userProtected holds labels declared protected outside the src: namespace
// through DeclareProtected. Checked by LabelProtected.
var userProtected = map[string]bool{}

// DeclareProtected marks a user label as non-removable, the way a "secret"
// or "protected" label declared in policy config becomes sticky.
func DeclareProtected(label string) {
	userProtected[label] = true
}

// LabelProtected reports whether l can never be dropped by a later
// operation: any src: taint, or any label explicitly declared protected.
func LabelProtected(l string) bool {
	return strings.HasPrefix(l, protectedPrefix) || userProtected[l]
}

// Merge unions labels and taint, concatenates sources with stable dedup,
// and resolves policy per the "last non-null wins within same scope; union
// across scopes" rule. Merge is associative and idempotent on identical
// inputs.
func Merge(a, b Descriptor) Descriptor {
	return Descriptor{
		Labels:  unionStable(a.Labels, b.Labels),
		Taint:   unionStable(a.Taint, b.Taint),
		Sources: concatDedup(a.Sources, b.Sources),
		Policy:  mergePolicy(a.Policy, b.Policy),
	}
}

// MergeAll folds Merge across every descriptor in ds, left to right.
func MergeAll(ds ...Descriptor) Descriptor {
	out := Empty()
	for _, d := range ds {
		out = Merge(out, d)
	}
	return out
}

// Derive merges descriptor with a freshly observed source and, optionally,
// new taint labels — the standard shape of "this operation produced a new
// value tagged with its own provenance, plus everything it was built from".
func Derive(d Descriptor, newSource string, newTaint ...string) Descriptor {
	add := Descriptor{Taint: newTaint}
	if newSource != "" {
		add.Sources = []string{newSource}
	}
	return Merge(d, add)
}

// HasTaint reports whether t is present in d.Taint.
func (d Descriptor) HasTaint(t string) bool {
	for _, x := range d.Taint {
		if x == t {
			return true
		}
	}
	return false
}

// HasLabel reports whether l is present in d.Labels.
func (d Descriptor) HasLabel(l string) bool {
	for _, x := range d.Labels {
		if x == l {
			return true
		}
	}
	return false
}

func unionStable(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func concatDedup(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergePolicy(a, b *Policy) *Policy {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Scope == b.Scope:
		// Last non-null wins within the same scope: b was derived later.
		return b
	default:
		// Union across scopes: combine the allow/deny sets, keep the
		// more specific (later) name/scope for display purposes.
		return &Policy{
			Name:  b.Name,
			Scope: b.Scope,
			Allow: unionStable(a.Allow, b.Allow),
			Deny:  unionStable(a.Deny, b.Deny),
		}
	}
}

// Subsumes reports whether v ⊇ every contributor descriptor in ancestry —
// the monotonicity check used by tests.
func Subsumes(v Descriptor, ancestry ...Descriptor) bool {
	want := MergeAll(ancestry...)
	for _, l := range want.Labels {
		if !v.HasLabel(l) {
			return false
		}
	}
	for _, t := range want.Taint {
		if !v.HasTaint(t) {
			return false
		}
	}
	sourceSet := make(map[string]bool, len(v.Sources))
	for _, s := range v.Sources {
		sourceSet[s] = true
	}
	for _, s := range want.Sources {
		if !sourceSet[s] {
			return false
		}
	}
	return true
}
