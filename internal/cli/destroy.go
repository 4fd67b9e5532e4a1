package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/engine"
	"github.com/accord-io/accord/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed resources",
	Long: `Deletes every resource recorded in state, in reverse dependency
order: dependents are removed before the resources they depend on.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(args)
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

	snap := store.Snapshot()
	if len(snap.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadProviders(ctx, registry, nil, snap); err != nil {
		return err
	}

	eng := engine.New(registry)
	plan, err := eng.PlanDestroy(ctx, snap)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	renderPlanSummary(plan)
	fmt.Println()
	renderPlanChanges(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Println()
	report, applyErr := eng.ApplyWithCallback(ctx, plan, store, renderApplyEvent)
	renderRunSummary(report)

	return applyErr
}
