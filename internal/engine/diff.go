package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/logging"
	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
)

// Engine orchestrates planning and applying of resources.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds how many independent resources are processed
	// concurrently during apply.
	Parallelism int
}

func New(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: DefaultParallelism,
	}
}

// Plan generates an execution plan by comparing desired configuration
// against the state snapshot. The diff is schema-driven: each attribute's
// force-new/updatable classification decides between update and
// replacement. No provider calls are made.
func (e *Engine) Plan(ctx context.Context, cfg *ir.Config, snap *ir.State) (*ir.Plan, error) {
	resources := ExpandForEach(cfg.Resources)
	logging.Debug("creating plan", "resources", len(resources), "state_resources", len(snap.Resources))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			PriorSerial: snap.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, err
	}

	configByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		configByAddr[res.Address()] = res
	}

	// Creates and updates in forward dependency order.
	for _, addr := range dag.CreationOrder() {
		res := configByAddr[addr]

		kind, _, err := e.registry.KindSchema(res.Kind)
		if err != nil {
			return nil, &ir.ConfigError{Address: addr, Detail: err.Error()}
		}

		change, err := diffResource(res, snap.Resources[addr], kind)
		if err != nil {
			return nil, err
		}
		if change.Action == ir.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		plan.Changes = append(plan.Changes, change)
		countAction(plan.Summary, change.Action)
	}

	// Resources present in state but absent from configuration are
	// destroyed, dependents before dependencies.
	abandoned := make(map[string]*ir.ResourceState)
	for addr, rs := range snap.Resources {
		if _, ok := configByAddr[addr]; !ok {
			abandoned[addr] = rs
		}
	}
	if len(abandoned) > 0 {
		stateDAG, err := BuildDAGFromState(abandoned)
		if err != nil {
			return nil, err
		}
		for _, addr := range stateDAG.DestructionOrder() {
			rs, ok := abandoned[addr]
			if !ok {
				continue
			}
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  ir.ActionDelete,
				Reason:  "not in configuration",
				Prior:   rs,
				Diff:    buildDeleteDiff(rs.Attributes),
			})
			plan.Summary.Delete++
		}
	}

	return plan, nil
}

// PlanDestroy generates a full-teardown plan from state alone: every
// managed resource is deleted in reverse dependency order.
func (e *Engine) PlanDestroy(ctx context.Context, snap *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			PriorSerial:    snap.Serial,
			TargetsDestroy: true,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}

	if len(snap.Resources) == 0 {
		return plan, nil
	}

	dag, err := BuildDAGFromState(snap.Resources)
	if err != nil {
		return nil, err
	}

	for _, addr := range dag.DestructionOrder() {
		rs, ok := snap.Resources[addr]
		if !ok {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Reason:  "destroy requested",
			Prior:   rs,
			Diff:    buildDeleteDiff(rs.Attributes),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// diffResource computes the action for one declared resource against its
// stored record.
func diffResource(res *ir.Resource, prior *ir.ResourceState, kind *schema.Kind) (*ir.ResourceChange, error) {
	addr := res.Address()
	change := &ir.ResourceChange{
		Address: addr,
		Desired: res,
		Prior:   prior,
	}

	if prior == nil {
		change.Action = ir.ActionCreate
		change.Reason = "not in state"
		change.Diff = buildCreateDiff(res.Properties)
		return change, nil
	}

	switch prior.Status {
	case ir.StatusTainted:
		change.Action = ir.ActionReplace
		change.Reason = "tainted"
		change.Diff = buildPropertyDiff(prior.Attributes, res.Properties, kind)
	case ir.StatusStale:
		change.Action = ir.ActionCreate
		change.Reason = "missing from provider"
		change.Diff = buildCreateDiff(res.Properties)
	default:
		diff := buildPropertyDiff(prior.Attributes, res.Properties, kind)
		filterIgnoredChanges(res, diff)
		change.Diff = diff

		action, reason := classify(diff, kind)
		change.Action = action
		change.Reason = reason
	}

	if change.Action == ir.ActionNoOp {
		return change, nil
	}

	if err := enforceLifecycle(res, change.Action); err != nil {
		return nil, err
	}

	if change.Action == ir.ActionReplace &&
		res.Lifecycle != nil && res.Lifecycle.CreateBeforeDestroy && kind.CreateBeforeDestroy {
		change.CreateBeforeDestroy = true
	}

	return change, nil
}

// classify maps a property diff to an action using the kind schema. A
// force-new mismatch, or any mismatch on a kind without update
// capability, forces replacement.
func classify(diff map[string]*ir.PropertyDiff, kind *schema.Kind) (ir.Action, string) {
	if len(diff) == 0 {
		return ir.ActionNoOp, ""
	}

	for key, d := range diff {
		if d.ForcesReplacement {
			return ir.ActionReplace, fmt.Sprintf("force-new attribute %q changed", key)
		}
	}
	if !kind.CanUpdate {
		for key := range diff {
			return ir.ActionReplace, fmt.Sprintf("attribute %q changed and %s does not support in-place update", key, kind.Name)
		}
	}
	for key := range diff {
		return ir.ActionUpdate, fmt.Sprintf("attribute %q changed", key)
	}
	return ir.ActionNoOp, ""
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action ir.Action) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == ir.ActionDelete || action == ir.ActionReplace) {
		return fmt.Errorf("resource %s has preventDestroy set but plan requires destruction", res.Address())
	}

	return nil
}

// filterIgnoredChanges drops diff entries for attributes the lifecycle
// ignores.
func filterIgnoredChanges(res *ir.Resource, diff map[string]*ir.PropertyDiff) {
	if res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return
	}
	for _, attr := range res.Lifecycle.IgnoreChanges {
		delete(diff, attr)
	}
}

// buildPropertyDiff compares prior and desired attributes field by field.
// Computed attributes never appear in the diff.
func buildPropertyDiff(prior, desired map[string]any, kind *schema.Kind) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		attr := kind.Classify(k)
		if attr.Computed {
			continue
		}

		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{
				After:             desiredVal,
				ForcesReplacement: attr.ForceNew,
				Action:            "create",
			}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{
				Before:            priorVal,
				ForcesReplacement: attr.ForceNew,
				Action:            "delete",
			}
		case !valuesEqual(priorVal, desiredVal):
			diff[k] = &ir.PropertyDiff{
				Before:            priorVal,
				After:             desiredVal,
				ForcesReplacement: attr.ForceNew,
				Action:            "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

// valuesEqual compares two attribute values structurally. Formatting via
// %v keeps map comparison order-independent.
func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", normalizeValue(a)) == fmt.Sprintf("%v", normalizeValue(b))
}

func countAction(s *ir.PlanSummary, a ir.Action) {
	switch a {
	case ir.ActionCreate:
		s.Create++
	case ir.ActionUpdate:
		s.Update++
	case ir.ActionReplace:
		s.Replace++
	case ir.ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
