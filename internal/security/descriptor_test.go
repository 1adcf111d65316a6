package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeUnionsLabelsAndTaintWithDedup(t *testing.T) {
	a := Descriptor{Labels: []string{"pii"}, Taint: []string{"src:file"}, Sources: []string{"file:a.md"}}
	b := Descriptor{Labels: []string{"pii", "secret"}, Taint: []string{"src:exec"}, Sources: []string{"file:a.md", "exec:echo"}}

	m := Merge(a, b)
	require.ElementsMatch(t, []string{"pii", "secret"}, m.Labels)
	require.ElementsMatch(t, []string{"src:file", "src:exec"}, m.Taint)
	require.ElementsMatch(t, []string{"file:a.md", "exec:echo"}, m.Sources)
}

func TestMergeIsAssociativeAndIdempotent(t *testing.T) {
	a := Descriptor{Taint: []string{"src:file"}}
	b := Descriptor{Taint: []string{"src:exec"}}
	c := Descriptor{Taint: []string{"src:mcp"}}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	require.ElementsMatch(t, left.Taint, right.Taint)

	again := Merge(left, left)
	require.ElementsMatch(t, left.Taint, again.Taint)
}

func TestDescriptorMonotonicityUnderDerive(t *testing.T) {
	// "Descriptor monotonicity": derived values subsume every
	// ancestor descriptor they were built from.
	base := Descriptor{Taint: []string{"src:file"}, Labels: []string{"pii"}}
	derived := Derive(base, "exec:transform", "src:exec")

	require.True(t, Subsumes(derived, base))
	require.True(t, derived.HasTaint("src:file"))
	require.True(t, derived.HasTaint("src:exec"))
	require.True(t, derived.HasLabel("pii"))
}

func TestLabelProtectedCoversSrcPrefixAndDeclared(t *testing.T) {
	require.True(t, LabelProtected("src:exec"))
	require.False(t, LabelProtected("arbitrary"))

	DeclareProtected("clearance:top-secret")
	require.True(t, LabelProtected("clearance:top-secret"))
}

func TestMergePolicySameScopeLastWins(t *testing.T) {
	a := Descriptor{Policy: &Policy{Name: "p1", Scope: "module", Allow: []string{"read"}}}
	b := Descriptor{Policy: &Policy{Name: "p2", Scope: "module", Allow: []string{"write"}}}

	m := Merge(a, b)
	require.Equal(t, "p2", m.Policy.Name)
	require.Equal(t, []string{"write"}, m.Policy.Allow)
}

func TestMergePolicyDifferentScopeUnions(t *testing.T) {
	a := Descriptor{Policy: &Policy{Name: "p1", Scope: "module", Allow: []string{"read"}}}
	b := Descriptor{Policy: &Policy{Name: "p2", Scope: "global", Allow: []string{"write"}}}

	m := Merge(a, b)
	require.ElementsMatch(t, []string{"read", "write"}, m.Policy.Allow)
}

func TestSubsumesFailsWhenSourceMissing(t *testing.T) {
	ancestor := Descriptor{Sources: []string{"file:secret.env"}}
	v := Descriptor{Sources: []string{"file:other.env"}}
	require.False(t, Subsumes(v, ancestor))
}
