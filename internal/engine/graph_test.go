package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accord-io/accord/internal/ir"
)

func declared(kind, name string, props map[string]any, deps ...string) *ir.Resource {
	return &ir.Resource{
		Kind:       kind,
		Name:       name,
		Provider:   "test",
		Properties: props,
		DependsOn:  deps,
	}
}

func TestBuildDAG_CreationOrder(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "app", map[string]any{"subnet": "ptr://test:Thing/subnet/id"}),
		declared("test:Thing", "subnet", map[string]any{"vpc": "ptr://test:Thing/vpc/id"}),
		declared("test:Thing", "vpc", map[string]any{"cidr": "10.0.0.0/16"}),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"test:Thing.vpc", "test:Thing.subnet", "test:Thing.app"}, dag.CreationOrder())
	assert.Equal(t, []string{"test:Thing.app", "test:Thing.subnet", "test:Thing.vpc"}, dag.DestructionOrder())
}

func TestBuildDAG_DeterministicOrder(t *testing.T) {
	// Independent resources with no edges between them. The order must be
	// stable across runs despite map iteration.
	resources := []*ir.Resource{
		declared("test:Thing", "c", nil),
		declared("test:Thing", "a", nil),
		declared("test:Thing", "b", nil),
	}

	first, err := BuildDAG(resources)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:Thing.a", "test:Thing.b", "test:Thing.c"}, first.CreationOrder())

	for i := 0; i < 20; i++ {
		dag, err := BuildDAG(resources)
		require.NoError(t, err)
		assert.Equal(t, first.CreationOrder(), dag.CreationOrder())
	}
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "second", nil, "test:Thing.first"),
		declared("test:Thing", "first", nil),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"test:Thing.first", "test:Thing.second"}, dag.CreationOrder())
	assert.Equal(t, []string{"test:Thing.first"}, dag.Dependencies("test:Thing.second"))
}

func TestBuildDAG_DuplicateAddress(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "dup", nil),
		declared("test:Thing", "dup", nil),
	})

	var cfgErr *ir.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "test:Thing.dup", cfgErr.Address)
	assert.Contains(t, cfgErr.Detail, "duplicate")
}

func TestBuildDAG_UndeclaredDependsOn(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "orphan", nil, "test:Thing.ghost"),
	})

	var cfgErr *ir.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "test:Thing.orphan", cfgErr.Address)
	assert.Contains(t, cfgErr.Detail, `"test:Thing.ghost"`)
}

func TestBuildDAG_UndeclaredReference(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "app", map[string]any{"vpc": "ptr://test:Thing/missing/id"}),
	})

	var cfgErr *ir.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Detail, "test:Thing.missing")
}

func TestBuildDAG_CycleReported(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "a", nil, "test:Thing.b"),
		declared("test:Thing", "b", nil, "test:Thing.a"),
	})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"test:Thing.a", "test:Thing.b", "test:Thing.a"}, cycleErr.Addresses)
	assert.Contains(t, cycleErr.Error(), "test:Thing.a -> test:Thing.b -> test:Thing.a")
}

func TestBuildDAG_SelfReference(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{
		declared("test:Thing", "loop", map[string]any{"me": "ptr://test:Thing/loop/id"}),
	})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestBuildDAGFromState_DanglingDependency(t *testing.T) {
	// Recorded dependencies may name records already removed from state.
	dag, err := BuildDAGFromState(map[string]*ir.ResourceState{
		"test:Thing.child": {Kind: "test:Thing", Name: "child", Dependencies: []string{"test:Thing.gone"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"test:Thing.child", "test:Thing.gone"}, dag.DestructionOrder())
}

func TestExtractRefs_NestedStructures(t *testing.T) {
	refs := ExtractRefs(map[string]any{
		"flat": "ptr://test:Thing/a/id",
		"list": []any{"plain", "ptr://test:Thing/b/id"},
		"nested": map[string]any{
			"deep": "ptr://test:Thing/c/arn",
		},
		"scalar": 42,
	})

	assert.ElementsMatch(t, []string{
		"ptr://test:Thing/a/id",
		"ptr://test:Thing/b/id",
		"ptr://test:Thing/c/arn",
	}, refs)
}

func TestRefToAddr(t *testing.T) {
	assert.Equal(t, "aws:Vpc.main", RefToAddr("ptr://aws:Vpc/main/id"))
	assert.Equal(t, "aws:Vpc.main", RefToAddr("ptr://aws:Vpc/main"))
	assert.Equal(t, "", RefToAddr("http://aws:Vpc/main/id"))
	assert.Equal(t, "", RefToAddr("ptr://aws:Vpc"))
	assert.Equal(t, "", RefToAddr("ptr:///name/id"))
}
