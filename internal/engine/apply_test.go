package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
	"github.com/accord-io/accord/internal/state"
)

// fakeProvider records operations in order and can be told to fail
// specific creates.
type fakeProvider struct {
	mu      sync.Mutex
	nextID  int
	objects map[string]map[string]any
	events  []string

	// onCreate, when set before a run starts, is invoked ahead of every
	// create and can block or fail the call.
	onCreate func(ctx context.Context, attrs map[string]any) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{objects: make(map[string]map[string]any)}
}

func (p *fakeProvider) Name() string { return "test" }

func (p *fakeProvider) Kinds() []schema.Kind {
	return []schema.Kind{
		{
			Name: "test:Thing",
			Attributes: map[string]schema.Attribute{
				"value": {},
				"fixed": {ForceNew: true},
				"fail":  {},
			},
			CanUpdate:           true,
			CreateBeforeDestroy: true,
		},
		{
			Name: "test:Frozen",
			Attributes: map[string]schema.Attribute{
				"value": {},
			},
			CanUpdate: false,
		},
	}
}

func (p *fakeProvider) Configure(ctx context.Context, settings map[string]any) error { return nil }

func (p *fakeProvider) Create(ctx context.Context, kind string, attrs map[string]any) (string, map[string]any, error) {
	if p.onCreate != nil {
		if err := p.onCreate(ctx, attrs); err != nil {
			return "", nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fail, _ := attrs["fail"].(bool); fail {
		p.events = append(p.events, "create-failed")
		return "", nil, errors.New("simulated create failure")
	}

	p.nextID++
	id := fmt.Sprintf("fake-%d", p.nextID)
	p.objects[id] = attrs
	p.events = append(p.events, "create "+id)
	return id, map[string]any{"id": id}, nil
}

func (p *fakeProvider) Read(ctx context.Context, kind, id string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attrs, ok := p.objects[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return attrs, nil
}

func (p *fakeProvider) Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.objects[id]; !ok {
		return nil, provider.ErrNotFound
	}
	p.objects[id] = attrs
	p.events = append(p.events, "update "+id)
	return map[string]any{"id": id}, nil
}

func (p *fakeProvider) Delete(ctx context.Context, kind, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.objects[id]; !ok {
		return provider.ErrNotFound
	}
	delete(p.objects, id)
	p.events = append(p.events, "delete "+id)
	return nil
}

func (p *fakeProvider) eventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.events...)
}

func testSetup(t *testing.T) (*Engine, *fakeProvider, state.Store) {
	t.Helper()

	fake := newFakeProvider()
	reg := provider.NewRegistry()
	reg.Register(fake)

	store, err := state.OpenFile(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	return New(reg), fake, store
}

func thing(name string, props map[string]any) *ir.Resource {
	return &ir.Resource{
		Kind:       "test:Thing",
		Name:       name,
		Provider:   "test",
		Properties: props,
	}
}

func TestApply_CreateCommitsState(t *testing.T) {
	eng, _, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("one", map[string]any{"value": "a"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)

	report, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)

	rs, ok := store.Read("test:Thing.one")
	require.True(t, ok)
	assert.Equal(t, "fake-1", rs.ID)
	assert.Equal(t, ir.StatusSynced, rs.Status)
}

func TestApply_SecondPlanIsNoOp(t *testing.T) {
	eng, _, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("one", map[string]any{"value": "a"}),
		thing("two", map[string]any{"value": "b"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	again, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	assert.Empty(t, again.Changes)
	assert.Equal(t, 2, again.Summary.NoOp)
}

func TestApply_DependencyCommittedBeforeDependent(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("base", map[string]any{"value": "a"}),
		thing("child", map[string]any{"value": "ptr://test:Thing/base/id"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	// The child's reference resolved to the base's real ID, which only
	// exists in the store once the base's create was committed.
	childState, ok := store.Read("test:Thing.child")
	require.True(t, ok)
	childAttrs := fake.objects[childState.ID]
	assert.Equal(t, "fake-1", childAttrs["value"])
}

func TestApply_PartialFailureSkipsDownstreamOnly(t *testing.T) {
	eng, _, store := testSetup(t)
	ctx := context.Background()

	a := thing("a", map[string]any{"fail": true})
	b := thing("b", map[string]any{"value": "x"})
	b.DependsOn = []string{"test:Thing.a"}
	c := thing("c", map[string]any{"value": "y"})
	c.DependsOn = []string{"test:Thing.b"}
	d := thing("d", map[string]any{"value": "z"})

	cfg := &ir.Config{Resources: []*ir.Resource{a, b, c, d}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, store)
	require.Error(t, err)

	assert.Equal(t, RunFailed, report.Results["test:Thing.a"].Status)
	assert.Equal(t, RunSkipped, report.Results["test:Thing.b"].Status)
	assert.Contains(t, report.Results["test:Thing.b"].Reason, "test:Thing.a")
	assert.Equal(t, RunSkipped, report.Results["test:Thing.c"].Status)
	assert.Equal(t, RunSucceeded, report.Results["test:Thing.d"].Status)

	// The failed and skipped resources left no state records; the
	// independent one did.
	_, ok := store.Read("test:Thing.a")
	assert.False(t, ok)
	_, ok = store.Read("test:Thing.d")
	assert.True(t, ok)
}

func TestApply_DestroyReverseOrder(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	base := thing("base", map[string]any{"value": "a"})
	child := thing("child", map[string]any{"value": "b"})
	child.DependsOn = []string{"test:Thing.base"}
	cfg := &ir.Config{Resources: []*ir.Resource{base, child}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	baseID := mustID(t, store, "test:Thing.base")
	childID := mustID(t, store, "test:Thing.child")

	destroy, err := eng.PlanDestroy(ctx, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, destroy.Changes, 2)
	assert.Equal(t, "test:Thing.child", destroy.Changes[0].Address)
	assert.Equal(t, "test:Thing.base", destroy.Changes[1].Address)

	_, err = eng.Apply(ctx, destroy, store)
	require.NoError(t, err)

	events := fake.eventLog()
	assert.Equal(t, []string{"delete " + childID, "delete " + baseID}, events[len(events)-2:])
	assert.Empty(t, store.All())
}

func TestApply_ReplaceDestroysBeforeCreating(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("one", map[string]any{"fixed": "first"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	oldID := mustID(t, store, "test:Thing.one")

	cfg.Resources[0].Properties["fixed"] = "second"
	plan, err = eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)

	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	newID := mustID(t, store, "test:Thing.one")
	assert.NotEqual(t, oldID, newID)

	events := fake.eventLog()
	assert.Equal(t, []string{"delete " + oldID, "create " + newID}, events[len(events)-2:])
}

func TestApply_ReplaceCreateBeforeDestroy(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	res := thing("one", map[string]any{"fixed": "first"})
	res.Lifecycle = &ir.Lifecycle{CreateBeforeDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	oldID := mustID(t, store, "test:Thing.one")

	res.Properties["fixed"] = "second"
	plan, err = eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	require.True(t, plan.Changes[0].CreateBeforeDestroy)

	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	newID := mustID(t, store, "test:Thing.one")
	events := fake.eventLog()
	assert.Equal(t, []string{"create " + newID, "delete " + oldID}, events[len(events)-2:])
}

func TestApply_AbandonedResourceDeleted(t *testing.T) {
	eng, _, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("keep", map[string]any{"value": "a"}),
		thing("drop", map[string]any{"value": "b"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	cfg.Resources = cfg.Resources[:1]
	plan, err = eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, "test:Thing.drop", plan.Changes[0].Address)

	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	_, ok := store.Read("test:Thing.drop")
	assert.False(t, ok)
	_, ok = store.Read("test:Thing.keep")
	assert.True(t, ok)
}

func TestApply_OutputsStoredAfterSuccess(t *testing.T) {
	eng, _, store := testSetup(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{thing("one", map[string]any{"value": "a"})},
		Outputs:   map[string]any{"thing_id": "ptr://test:Thing/one/id"},
	}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, "fake-1", snap.Outputs["thing_id"])
}

func mustID(t *testing.T, store state.Store, addr string) string {
	t.Helper()
	rs, ok := store.Read(addr)
	require.True(t, ok, "no state record for %s", addr)
	return rs.ID
}

func TestApply_NetworkScenario(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	// A vpc, a subnet inside it, and an instance inside the subnet.
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			thing("instance", map[string]any{"value": "ptr://test:Thing/subnet/id"}),
			thing("subnet", map[string]any{"value": "ptr://test:Thing/vpc/id"}),
			thing("vpc", map[string]any{"value": "10.0.0.0/16"}),
		},
		Outputs: map[string]any{
			"instance_id": "ptr://test:Thing/instance/id",
		},
	}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Summary.Create)

	report, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)

	// Creation happened root first.
	assert.Equal(t, []string{"create fake-1", "create fake-2", "create fake-3"}, fake.eventLog())

	// Each layer saw its parent's committed identifier.
	subnet, _ := store.Read("test:Thing.subnet")
	assert.Equal(t, []string{"test:Thing.vpc"}, subnet.Dependencies)
	instance, _ := store.Read("test:Thing.instance")
	assert.Equal(t, []string{"test:Thing.subnet"}, instance.Dependencies)
	assert.Equal(t, mustID(t, store, "test:Thing.instance"), store.Snapshot().Outputs["instance_id"])

	// Second run converges to no work.
	plan, err = eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)

	// Teardown removes leaves before roots.
	destroy, err := eng.PlanDestroy(ctx, store.Snapshot())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, destroy, store)
	require.NoError(t, err)
	assert.Empty(t, store.All())
	events := fake.eventLog()
	assert.Equal(t, "delete fake-1", events[len(events)-1])
}

func TestApply_CancelSkipsQueuedResources(t *testing.T) {
	eng, fake, store := testSetup(t)
	eng.Parallelism = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first create blocks until the run has been cancelled, keeping
	// the second resource queued behind the single worker slot.
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.onCreate = func(ctx context.Context, attrs map[string]any) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	cfg := &ir.Config{Resources: []*ir.Resource{
		thing("one", map[string]any{"value": "a"}),
		thing("two", map[string]any{"value": "b"}),
	}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	go func() {
		<-started
		cancel()
		close(release)
	}()

	report, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	// The in-flight create ran to completion; the queued one never
	// reached its provider.
	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, skipped)
	assert.Len(t, fake.eventLog(), 1)

	for _, res := range report.Results {
		if res.Status == RunSkipped {
			assert.Equal(t, "run cancelled", res.Reason)
		}
	}
}

func TestApply_OperationTimeoutFailsResource(t *testing.T) {
	eng, fake, store := testSetup(t)
	ctx := context.Background()

	fake.onCreate = func(ctx context.Context, attrs map[string]any) error {
		<-ctx.Done()
		return ctx.Err()
	}

	slow := thing("slow", map[string]any{"value": "a"})
	slow.Timeout = "50ms"
	child := thing("child", map[string]any{"value": "b"})
	child.DependsOn = []string{"test:Thing.slow"}

	cfg := &ir.Config{Resources: []*ir.Resource{slow, child}}

	plan, err := eng.Plan(ctx, cfg, store.Snapshot())
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, store)
	require.Error(t, err)

	assert.Equal(t, RunFailed, report.Results["test:Thing.slow"].Status)
	require.ErrorIs(t, report.Results["test:Thing.slow"].Err, context.DeadlineExceeded)
	assert.Equal(t, RunSkipped, report.Results["test:Thing.child"].Status)
	assert.Contains(t, report.Results["test:Thing.child"].Reason, "test:Thing.slow")

	// Nothing was committed for the timed-out resource.
	_, ok := store.Read("test:Thing.slow")
	assert.False(t, ok)
}
