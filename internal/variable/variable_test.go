package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/security"
)

func TestCreateSimpleText(t *testing.T) {
	v := CreateSimpleText("name", "World", Source{Directive: "var"}, Options{})
	assert.True(t, v.IsText())
	assert.Equal(t, "World", v.Value)
}

func TestCombineIsMonotonic(t *testing.T) {
	a := CreateSimpleText("a", "x", Source{}, Options{Security: security.Descriptor{Labels: []string{"secret"}}})
	b := CreateSimpleText("b", "y", Source{}, Options{Security: security.Descriptor{Sources: []string{"network"}}})

	merged := Combine(a, b)

	assert.True(t, merged.IsSupersetOf(a.Security))
	assert.True(t, merged.IsSupersetOf(b.Security))
	assert.Contains(t, merged.Labels, "secret")
	assert.Contains(t, merged.Sources, "network")
}

func TestAssertStructuredRejectsWrongKind(t *testing.T) {
	v := CreateSimpleText("t", "x", Source{}, Options{})
	_, err := AssertStructured(v)
	require.Error(t, err)
}

func TestToolCollectionDoesNotInheritEntryLabels(t *testing.T) {
	fn := CreateExecutable("f", Executable{Language: LangJS, Labels: []string{"secret"}, Body: &ast.Literal{Value: "x"}}, Source{}, Options{})
	tc := CreateToolCollection("t", ToolCollection{
		Entries: map[string]ToolEntry{"f": {Fn: fn}},
		Order:   []string{"f"},
	}, Source{}, Options{})

	assert.NotContains(t, tc.Security.Labels, "secret")
	assert.True(t, tc.Internal.IsToolsCollection)
}

func TestCloneIsIndependent(t *testing.T) {
	v := CreateSimpleText("a", "x", Source{}, Options{Security: security.Descriptor{Labels: []string{"l1"}}})
	c := Clone(v)
	c.Security.Labels[0] = "mutated"
	assert.Equal(t, "l1", v.Security.Labels[0])
}
