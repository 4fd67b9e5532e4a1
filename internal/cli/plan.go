package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/engine"
	"github.com/accord-io/accord/internal/eval"
	"github.com/accord-io/accord/internal/provider"
)

var (
	planOutFile  string
	planVarFiles []string
	planVars     []string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions Accord will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be replaced or deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file")
	planCmd.Flags().StringArrayVar(&planVarFiles, "var-file", nil, "JSON file with variable values")
	planCmd.Flags().StringArrayVar(&planVars, "var", nil, "Set a variable (name=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	vars, err := eval.NewVariables(planVarFiles, planVars)
	if err != nil {
		return err
	}

	fmt.Print("Loading configuration... ")
	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, vars)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	store, err := openStore(ctx, wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	snap := store.Snapshot()

	registry := provider.NewRegistry()
	if err := loadProviders(ctx, registry, cfg, snap); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	eng := engine.New(registry)
	plan, err := eng.Plan(ctx, cfg, snap)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	renderPlanSummary(plan)
	if len(plan.Changes) > 0 {
		fmt.Println("\nAccord will perform the following actions:")
		renderPlanChanges(plan)
	} else {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
	}

	if planOutFile != "" {
		if err := savePlanFile(planOutFile, plan); err != nil {
			return err
		}
		fmt.Printf("\nPlan saved to %s. Apply it with: accord apply --plan %s\n", planOutFile, planOutFile)
	}

	return nil
}
