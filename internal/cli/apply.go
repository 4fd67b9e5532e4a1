package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/engine"
	"github.com/accord-io/accord/internal/eval"
	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
)

var (
	applyAutoApprove bool
	applyPlanFile    string
	applyParallelism int
	applyVarFiles    []string
	applyVars        []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply changes to reach the desired state",
	Long: `Creates, updates, and deletes resources to match the configuration.

Without --plan, a fresh plan is computed and shown for approval first.
With --plan, a previously saved plan file is executed as-is.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval")
	applyCmd.Flags().StringVar(&applyPlanFile, "plan", "", "Apply a previously saved plan file")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent resource operations")
	applyCmd.Flags().StringArrayVar(&applyVarFiles, "var-file", nil, "JSON file with variable values")
	applyCmd.Flags().StringArrayVar(&applyVars, "var", nil, "Set a variable (name=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	registry := provider.NewRegistry()
	eng := engine.New(registry)
	eng.Parallelism = applyParallelism

	var plan *ir.Plan
	if applyPlanFile != "" {
		plan, err = loadPlanFile(applyPlanFile)
		if err != nil {
			return err
		}
		if err := loadPlanProviders(ctx, registry, plan); err != nil {
			return err
		}
	} else {
		vars, err := eval.NewVariables(applyVarFiles, applyVars)
		if err != nil {
			return err
		}

		evaluator := eval.NewEvaluator(wd)
		cfg, err := evaluator.LoadConfig(ctx, entryPoint, vars)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		snap := store.Snapshot()
		if err := loadProviders(ctx, registry, cfg, snap); err != nil {
			return err
		}

		plan, err = eng.Plan(ctx, cfg, snap)
		if err != nil {
			return fmt.Errorf("plan generation failed: %w", err)
		}
	}

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	renderPlanSummary(plan)
	fmt.Println()
	renderPlanChanges(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Println()
	report, applyErr := eng.ApplyWithCallback(ctx, plan, store, renderApplyEvent)
	renderRunSummary(report)

	return applyErr
}

// loadPlanProviders loads the providers referenced by a saved plan's
// changes. A saved plan carries no provider settings, so providers come
// up with their defaults and ambient credentials.
func loadPlanProviders(ctx context.Context, registry *provider.Registry, plan *ir.Plan) error {
	seen := make(map[string]bool)
	for _, change := range plan.Changes {
		name := ""
		if change.Desired != nil {
			name = change.Desired.Provider
		} else if change.Prior != nil {
			name = change.Prior.Provider
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if err := registry.Load(name); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		p, err := registry.Provider(name)
		if err != nil {
			return err
		}
		if err := p.Configure(ctx, nil); err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
	}
	return nil
}

// confirm prompts for a yes/no answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s\n  Only 'yes' will be accepted to approve.\n\n  Enter a value: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(answer) == "yes"
}

// renderApplyEvent prints one progress line per resource lifecycle event.
func renderApplyEvent(event engine.ApplyEvent) {
	switch event.Status {
	case "started":
		fmt.Printf("%s: %s...\n", event.Address, strings.ToLower(string(event.Action)))
	case "completed":
		fmt.Println(colorize(colorGreen, fmt.Sprintf("%s: %s complete (%s)", event.Address, strings.ToLower(string(event.Action)), event.Duration.Round(time.Millisecond))))
	case "failed":
		fmt.Println(colorize(colorRed, fmt.Sprintf("%s: failed: %v", event.Address, event.Error)))
	case "skipped":
		fmt.Println(colorize(colorYellow, fmt.Sprintf("%s: %s", event.Address, event.Reason)))
	}
}

// renderRunSummary prints the terminal status counts of a run.
func renderRunSummary(report *engine.RunReport) {
	succeeded, failed, skipped := report.Counts()
	line := fmt.Sprintf("\nApply complete. Resources: %d succeeded, %d failed, %d skipped.", succeeded, failed, skipped)
	if failed > 0 {
		fmt.Println(colorize(colorRed, line))
	} else {
		fmt.Println(colorize(colorGreen, line))
	}
}
