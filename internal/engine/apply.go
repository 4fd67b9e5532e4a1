package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/logging"
	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/state"
)

// DefaultParallelism bounds concurrent resource operations unless
// configured otherwise.
const DefaultParallelism = 10

// RunStatus is the executor's per-resource state machine.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	// RunSkipped marks resources never started because something upstream
	// failed or the run was cancelled.
	RunSkipped RunStatus = "skipped"
)

// ProviderError wraps a failure of a single provider operation. It is
// scoped to one resource; independent branches of the graph continue.
type ProviderError struct {
	Address string
	Op      string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Result is the terminal record of one resource in a run.
type Result struct {
	Address  string
	Action   ir.Action
	Status   RunStatus
	Reason   string // populated for skips
	Err      error
	Duration time.Duration
}

// RunReport aggregates per-resource results of one apply.
type RunReport struct {
	Results map[string]*Result
}

// Counts returns how many resources ended in each terminal status.
func (r *RunReport) Counts() (succeeded, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case RunSucceeded:
			succeeded++
		case RunFailed:
			failed++
		case RunSkipped:
			skipped++
		}
	}
	return
}

// Err returns the aggregated failure, or nil if every resource succeeded.
func (r *RunReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == RunFailed && res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
}

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Reason   string
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// Apply executes a plan against the store.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, store state.Store) (*RunReport, error) {
	return e.ApplyWithCallback(ctx, plan, store, nil)
}

// ApplyWithCallback executes a plan with progress event callbacks.
//
// Resources with no dependency relationship are processed concurrently
// under the configured parallelism; resources linked by an edge are
// strictly sequential, and a dependency's operation is committed to the
// store before any dependent begins. A failure halts everything
// transitively downstream of it but independent branches run to
// completion. Cancellation stops scheduling; operations already in
// flight finish and their results are still written.
func (e *Engine) ApplyWithCallback(ctx context.Context, plan *ir.Plan, store state.Store, callback ApplyCallback) (*RunReport, error) {
	report := &RunReport{Results: make(map[string]*Result, len(plan.Changes))}
	for _, change := range plan.Changes {
		report.Results[change.Address] = &Result{
			Address: change.Address,
			Action:  change.Action,
			Status:  RunPending,
		}
	}

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	// Creates and updates run against the forward dependency order,
	// deletes against the reverse one; the plan already carries each group
	// in the right order.
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	e.runPhase(ctx, createUpdates, forwardDeps(createUpdates), store, report, emit)
	e.runPhase(ctx, deletes, reverseDeps(deletes), store, report, emit)

	// Outputs reference live resources, so they are only stored after a
	// fully successful run.
	if !plan.Metadata.TargetsDestroy && len(plan.Outputs) > 0 && report.Err() == nil {
		resolved, err := resolveValue(normalizeValue(plan.Outputs), store)
		if err != nil {
			return report, fmt.Errorf("failed to resolve outputs: %w", err)
		}
		outputs, _ := resolved.(map[string]any)
		if err := store.SetOutputs(outputs); err != nil {
			return report, err
		}
	}

	return report, report.Err()
}

// forwardDeps maps each change to the other changes it must wait for:
// dependencies before dependents.
func forwardDeps(changes []*ir.ResourceChange) map[string]map[string]bool {
	inPhase := make(map[string]bool, len(changes))
	for _, c := range changes {
		inPhase[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired == nil {
			continue
		}
		for _, dep := range declaredDeps(c.Desired) {
			if inPhase[dep] {
				deps[c.Address][dep] = true
			}
		}
	}
	return deps
}

// reverseDeps flips the edges for destroys: a resource's delete must wait
// for the deletes of everything that depends on it.
func reverseDeps(changes []*ir.ResourceChange) map[string]map[string]bool {
	inPhase := make(map[string]bool, len(changes))
	for _, c := range changes {
		inPhase[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Prior == nil {
			continue
		}
		for _, dep := range c.Prior.Dependencies {
			if inPhase[dep] {
				// c depends on dep, so dep's delete waits for c's.
				deps[dep][c.Address] = true
			}
		}
	}
	return deps
}

// declaredDeps returns the sorted union of explicit and reference
// dependencies of a declared resource.
func declaredDeps(res *ir.Resource) []string {
	set := make(map[string]bool)
	for _, dep := range res.DependsOn {
		set[dep] = true
	}
	for _, ref := range ExtractRefs(res.Properties) {
		if addr := RefToAddr(ref); addr != "" && addr != res.Address() {
			set[addr] = true
		}
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// runPhase schedules one group of changes over a bounded worker pool,
// gating each change on its in-phase dependencies reaching a terminal
// state.
func (e *Engine) runPhase(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool, store state.Store, report *RunReport, emit func(ApplyEvent)) {
	if len(changes) == 0 {
		return
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			res := report.Results[c.Address]

			// Wait for every dependency to reach a terminal state.
			mu.Lock()
			for {
				if ctx.Err() != nil {
					res.Status = RunSkipped
					res.Reason = "run cancelled"
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped", Reason: res.Reason})
					cond.Broadcast()
					return
				}

				allDone := true
				var blocked string
				for dep := range deps[c.Address] {
					switch report.Results[dep].Status {
					case RunFailed, RunSkipped:
						blocked = dep
					case RunSucceeded:
					default:
						allDone = false
					}
					if blocked != "" || !allDone {
						break
					}
				}
				if blocked != "" {
					res.Status = RunSkipped
					res.Reason = fmt.Sprintf("skipped due to upstream failure of %s", blocked)
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped", Reason: res.Reason})
					cond.Broadcast()
					return
				}
				if allDone {
					break
				}
				cond.Wait()
			}
			res.Status = RunInProgress
			mu.Unlock()

			sem <- struct{}{}

			// A cancellation that arrived while this change sat behind
			// the semaphore stops it from starting; only operations
			// already handed to a provider run to completion.
			if ctx.Err() != nil {
				<-sem
				mu.Lock()
				res.Status = RunSkipped
				res.Reason = "run cancelled"
				mu.Unlock()
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped", Reason: res.Reason})
				cond.Broadcast()
				return
			}

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			err := e.executeChange(ctx, c, store)
			<-sem

			mu.Lock()
			res.Duration = time.Since(start)
			if err != nil {
				res.Status = RunFailed
				res.Err = err
				mu.Unlock()
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: res.Duration, Error: err})
			} else {
				res.Status = RunSucceeded
				mu.Unlock()
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: res.Duration})
			}
			cond.Broadcast()
		}(change)
	}

	wg.Wait()
}

// executeChange performs the provider operations for one change and
// commits the outcome to the store before returning.
func (e *Engine) executeChange(ctx context.Context, change *ir.ResourceChange, store state.Store) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	kindName := change.Address
	if change.Desired != nil {
		kindName = change.Desired.Kind
	} else if change.Prior != nil {
		kindName = change.Prior.Kind
	}

	_, prov, err := e.registry.KindSchema(kindName)
	if err != nil {
		return &ProviderError{Address: addr, Op: string(change.Action), Err: err}
	}

	// A cancelled run lets in-flight operations finish so no resource is
	// left provisioned but untracked; only the per-operation timeout
	// bounds the call itself.
	opCtx := context.WithoutCancel(ctx)
	opCtx, cancel := context.WithTimeout(opCtx, operationTimeout(change))
	defer cancel()

	switch change.Action {
	case ir.ActionCreate:
		return e.executeCreate(opCtx, change, prov, store)
	case ir.ActionUpdate:
		return e.executeUpdate(opCtx, change, prov, store)
	case ir.ActionReplace:
		return e.executeReplace(opCtx, change, prov, store)
	case ir.ActionDelete:
		return e.executeDelete(opCtx, change, prov, store)
	default:
		return nil
	}
}

func operationTimeout(change *ir.ResourceChange) time.Duration {
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func (e *Engine) executeCreate(ctx context.Context, change *ir.ResourceChange, prov provider.Interface, store state.Store) error {
	res := change.Desired
	attrs, err := resolveAttrs(res.Properties, store)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "create", Err: err}
	}

	var id string
	var outputs map[string]any
	err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var opErr error
		id, outputs, opErr = prov.Create(ctx, res.Kind, attrs)
		return opErr
	}, IsTransientError)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "create", Err: err}
	}

	return store.Write(change.Address, &ir.ResourceState{
		Kind:         res.Kind,
		Name:         res.Name,
		Provider:     res.Provider,
		ID:           id,
		Attributes:   res.Properties,
		Outputs:      outputs,
		Status:       ir.StatusSynced,
		Dependencies: declaredDeps(res),
	})
}

func (e *Engine) executeUpdate(ctx context.Context, change *ir.ResourceChange, prov provider.Interface, store state.Store) error {
	res := change.Desired
	prior, ok := store.Read(change.Address)
	if !ok {
		return &ProviderError{Address: change.Address, Op: "update", Err: fmt.Errorf("no state record for %s", change.Address)}
	}

	attrs, err := resolveAttrs(res.Properties, store)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "update", Err: err}
	}

	var outputs map[string]any
	err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var opErr error
		outputs, opErr = prov.Update(ctx, res.Kind, prior.ID, attrs)
		return opErr
	}, IsTransientError)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "update", Err: err}
	}

	return store.Write(change.Address, &ir.ResourceState{
		Kind:         res.Kind,
		Name:         res.Name,
		Provider:     res.Provider,
		ID:           prior.ID,
		Attributes:   res.Properties,
		Outputs:      outputs,
		Status:       ir.StatusSynced,
		Dependencies: declaredDeps(res),
	})
}

// executeReplace destroys then creates by default. With
// createBeforeDestroy the new resource is provisioned first and the old
// one removed after, for kinds that tolerate both existing at once.
func (e *Engine) executeReplace(ctx context.Context, change *ir.ResourceChange, prov provider.Interface, store state.Store) error {
	prior, _ := store.Read(change.Address)

	if change.CreateBeforeDestroy {
		if err := e.executeCreate(ctx, change, prov, store); err != nil {
			return err
		}
		if prior != nil && prior.ID != "" {
			if err := deleteRemote(ctx, prov, prior.Kind, prior.ID); err != nil {
				return &ProviderError{Address: change.Address, Op: "replace", Err: err}
			}
		}
		return nil
	}

	if prior != nil && prior.ID != "" {
		if err := deleteRemote(ctx, prov, prior.Kind, prior.ID); err != nil {
			return &ProviderError{Address: change.Address, Op: "replace", Err: err}
		}
		// The old resource is gone; record that before creating so a crash
		// here cannot orphan either copy.
		if err := store.Delete(change.Address); err != nil {
			return err
		}
	}

	return e.executeCreate(ctx, change, prov, store)
}

func (e *Engine) executeDelete(ctx context.Context, change *ir.ResourceChange, prov provider.Interface, store state.Store) error {
	prior, ok := store.Read(change.Address)
	if !ok {
		return nil
	}

	if prior.ID != "" {
		if err := deleteRemote(ctx, prov, prior.Kind, prior.ID); err != nil {
			return &ProviderError{Address: change.Address, Op: "delete", Err: err}
		}
	}

	return store.Delete(change.Address)
}

func deleteRemote(ctx context.Context, prov provider.Interface, kind, id string) error {
	err := RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		return prov.Delete(ctx, kind, id)
	}, IsTransientError)
	if errors.Is(err, provider.ErrNotFound) {
		return nil
	}
	return err
}

// resolveAttrs substitutes ptr:// references with values from the store.
// Dependencies are committed before dependents start, so every reference
// target must already have a record.
func resolveAttrs(props map[string]any, store state.Store) (map[string]any, error) {
	resolved, err := resolveValue(normalizeValue(props), store)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	return out, nil
}

func resolveValue(val any, store state.Store) (any, error) {
	switch v := val.(type) {
	case string:
		if !isRef(v) {
			return v, nil
		}
		addr := RefToAddr(v)
		attr := refAttr(v)
		rs, ok := store.Read(addr)
		if !ok {
			return nil, fmt.Errorf("reference %q targets %s which has no state record", v, addr)
		}
		if out, ok := rs.Outputs[attr]; ok {
			return out, nil
		}
		if in, ok := rs.Attributes[attr]; ok {
			return in, nil
		}
		return nil, fmt.Errorf("reference %q targets unknown attribute %q of %s", v, attr, addr)
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, inner := range v {
			r, err := resolveValue(inner, store)
			if err != nil {
				return nil, err
			}
			newMap[k] = r
		}
		return newMap, nil
	case []any:
		newSlice := make([]any, len(v))
		for i, inner := range v {
			r, err := resolveValue(inner, store)
			if err != nil {
				return nil, err
			}
			newSlice[i] = r
		}
		return newSlice, nil
	default:
		return v, nil
	}
}

func isRef(s string) bool {
	return strings.HasPrefix(s, "ptr://")
}

// refAttr returns the attribute component of a ptr:// reference, "id" if
// absent.
func refAttr(ref string) string {
	parts := strings.SplitN(strings.TrimPrefix(ref, "ptr://"), "/", 3)
	if len(parts) == 3 && parts[2] != "" {
		return parts[2]
	}
	return "id"
}
