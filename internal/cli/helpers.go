package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/state"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func colorize(color, s string) string {
	if noColor {
		return s
	}
	return color + s + colorReset
}

func actionColor(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDelete:
		return colorRed
	case ir.ActionUpdate, ir.ActionReplace:
		return colorYellow
	}
	return ""
}

func actionSymbol(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionUpdate:
		return "~"
	}
	return " "
}

// workDir resolves the optional path argument into a project directory
// and configuration entry point.
func workDir(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}

	return wd, entryPoint, nil
}

// openStore opens the state store for the current workspace, honoring
// any backend settings file in the project directory.
func openStore(ctx context.Context, wd string) (state.Store, error) {
	backendCfg, err := state.LoadBackendConfig(filepath.Join(wd, accordDir(), "backend.json"))
	if err != nil {
		return nil, err
	}
	return state.Open(ctx, backendCfg, filepath.Join(wd, WorkspaceStatePath()))
}

// loadProviders loads and configures every provider referenced by the
// configuration or by existing state records.
func loadProviders(ctx context.Context, registry *provider.Registry, cfg *ir.Config, snap *ir.State) error {
	seen := make(map[string]bool)
	need := func(name string) error {
		if name == "" || seen[name] {
			return nil
		}
		seen[name] = true
		if err := registry.Load(name); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		p, err := registry.Provider(name)
		if err != nil {
			return err
		}
		var settings map[string]any
		if cfg != nil {
			settings = cfg.Providers[name]
		}
		if err := p.Configure(ctx, settings); err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
		return nil
	}

	if cfg != nil {
		for _, res := range cfg.Resources {
			if err := need(res.Provider); err != nil {
				return err
			}
		}
	}
	if snap != nil {
		for _, rs := range snap.Resources {
			if err := need(rs.Provider); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		color := actionColor(change.Action)
		symbol := actionSymbol(change.Action)

		var kind, name string
		if change.Desired != nil {
			kind, name = change.Desired.Kind, change.Desired.Name
		} else if change.Prior != nil {
			kind, name = change.Prior.Kind, change.Prior.Name
		}

		header := fmt.Sprintf("  # %s will be %s", change.Address, change.Action)
		if change.Reason != "" {
			header += fmt.Sprintf(" (%s)", change.Reason)
		}
		fmt.Println()
		fmt.Println(colorize(color, header))
		fmt.Println(colorize(color, fmt.Sprintf("  %s resource %q %q {", symbol, kind, name)))
		renderPropertyDiff(change)
		fmt.Println(colorize(color, "    }"))
	}
}

// renderPropertyDiff prints per-attribute changes in a stable order.
func renderPropertyDiff(change *ir.ResourceChange) {
	keys := make([]string, 0, len(change.Diff))
	for key := range change.Diff {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		diff := change.Diff[key]
		suffix := ""
		if diff.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch diff.Action {
		case "create":
			fmt.Println(colorize(colorGreen, fmt.Sprintf("      + %s = %s", key, formatValue(diff.After))))
		case "delete":
			fmt.Println(colorize(colorRed, fmt.Sprintf("      - %s = %s", key, formatValue(diff.Before))))
		default:
			fmt.Println(colorize(colorYellow, fmt.Sprintf("      ~ %s = %s -> %s%s", key, formatValue(diff.Before), formatValue(diff.After), suffix)))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// savePlanFile serializes a plan to disk for a later apply.
func savePlanFile(path string, plan *ir.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// loadPlanFile reads a previously saved plan.
func loadPlanFile(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan ir.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return &plan, nil
}
