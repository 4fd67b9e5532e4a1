package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
)

func planEngine(t *testing.T) *Engine {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register(newFakeProvider())
	return New(registry)
}

func synced(kind, name, id string, attrs map[string]any) *ir.ResourceState {
	return &ir.ResourceState{
		Kind:       kind,
		Name:       name,
		Provider:   "test",
		ID:         id,
		Attributes: attrs,
		Status:     ir.StatusSynced,
	}
}

func TestPlan_NewResourceIsCreate(t *testing.T) {
	eng := planEngine(t)

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"value": "v1"})}}
	plan, err := eng.Plan(context.Background(), cfg, ir.NewState())
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionCreate, change.Action)
	assert.Equal(t, "not in state", change.Reason)
	assert.Equal(t, 1, plan.Summary.Create)
	assert.Equal(t, "v1", change.Diff["value"].After)
}

func TestPlan_UnchangedResourceIsNoOp(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Thing.one"] = synced("test:Thing", "one", "fake-1", map[string]any{"value": "v1"})

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"value": "v1"})}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	assert.Empty(t, plan.Changes)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestPlan_UpdatableAttributeIsUpdate(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Thing.one"] = synced("test:Thing", "one", "fake-1", map[string]any{"value": "v1"})

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"value": "v2"})}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionUpdate, change.Action)
	assert.Equal(t, `attribute "value" changed`, change.Reason)
	assert.Equal(t, "v1", change.Diff["value"].Before)
	assert.Equal(t, "v2", change.Diff["value"].After)
	assert.False(t, change.Diff["value"].ForcesReplacement)
}

func TestPlan_ForceNewAttributeIsReplace(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Thing.one"] = synced("test:Thing", "one", "fake-1", map[string]any{"fixed": "a"})

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"fixed": "b"})}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionReplace, change.Action)
	assert.Equal(t, `force-new attribute "fixed" changed`, change.Reason)
	assert.True(t, change.Diff["fixed"].ForcesReplacement)
}

func TestPlan_ImmutableKindIsReplace(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Frozen.one"] = synced("test:Frozen", "one", "fake-1", map[string]any{"value": "a"})

	cfg := &ir.Config{Resources: []*ir.Resource{{
		Kind:       "test:Frozen",
		Name:       "one",
		Provider:   "test",
		Properties: map[string]any{"value": "b"},
	}}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionReplace, change.Action)
	assert.Contains(t, change.Reason, "does not support in-place update")
}

func TestPlan_TaintedResourceIsReplace(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	rs := synced("test:Thing", "one", "fake-1", map[string]any{"value": "v1"})
	rs.Status = ir.StatusTainted
	snap.Resources["test:Thing.one"] = rs

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"value": "v1"})}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, "tainted", plan.Changes[0].Reason)
}

func TestPlan_StaleResourceIsCreate(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	rs := synced("test:Thing", "one", "fake-1", map[string]any{"value": "v1"})
	rs.Status = ir.StatusStale
	snap.Resources["test:Thing.one"] = rs

	cfg := &ir.Config{Resources: []*ir.Resource{thing("one", map[string]any{"value": "v1"})}}
	plan, err := eng.Plan(context.Background(), cfg, snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "missing from provider", plan.Changes[0].Reason)
}

func TestPlan_IgnoreChangesFiltersDiff(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Thing.one"] = synced("test:Thing", "one", "fake-1", map[string]any{"value": "v1"})

	res := thing("one", map[string]any{"value": "drifted"})
	res.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"value"}}

	plan, err := eng.Plan(context.Background(), &ir.Config{Resources: []*ir.Resource{res}}, snap)
	require.NoError(t, err)

	assert.Empty(t, plan.Changes)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestPlan_PreventDestroyBlocksReplace(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	snap.Resources["test:Thing.one"] = synced("test:Thing", "one", "fake-1", map[string]any{"fixed": "a"})

	res := thing("one", map[string]any{"fixed": "b"})
	res.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := eng.Plan(context.Background(), &ir.Config{Resources: []*ir.Resource{res}}, snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
	assert.Contains(t, err.Error(), "test:Thing.one")
}

func TestPlan_UnknownKindIsConfigError(t *testing.T) {
	eng := planEngine(t)

	cfg := &ir.Config{Resources: []*ir.Resource{{
		Kind:       "test:Unknown",
		Name:       "one",
		Provider:   "test",
		Properties: map[string]any{},
	}}}
	_, err := eng.Plan(context.Background(), cfg, ir.NewState())

	var cfgErr *ir.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "test:Unknown.one", cfgErr.Address)
}

func TestPlanDestroy_ReverseDependencyOrder(t *testing.T) {
	eng := planEngine(t)

	snap := ir.NewState()
	base := synced("test:Thing", "base", "id-base", map[string]any{"value": "v"})
	child := synced("test:Thing", "child", "id-child", map[string]any{"value": "v"})
	child.Dependencies = []string{"test:Thing.base"}
	snap.Resources["test:Thing.base"] = base
	snap.Resources["test:Thing.child"] = child

	plan, err := eng.PlanDestroy(context.Background(), snap)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.True(t, plan.Metadata.TargetsDestroy)
	assert.Equal(t, "test:Thing.child", plan.Changes[0].Address)
	assert.Equal(t, "test:Thing.base", plan.Changes[1].Address)
	for _, change := range plan.Changes {
		assert.Equal(t, ir.ActionDelete, change.Action)
		assert.Equal(t, "destroy requested", change.Reason)
	}
}

func TestValuesEqual_MapOrderIndependent(t *testing.T) {
	a := map[string]any{"x": 1, "y": []any{"a", "b"}, "z": map[string]any{"k": "v"}}
	b := map[string]any{"z": map[string]any{"k": "v"}, "y": []any{"a", "b"}, "x": 1}
	assert.True(t, valuesEqual(a, b))
	assert.False(t, valuesEqual(a, map[string]any{"x": 2}))
}
