package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/engine"
	"github.com/accord-io/accord/internal/eval"
	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the configuration",
	Long: `Checks that the configuration evaluates, every resource kind is known
to its provider, required attributes are set, and the dependency graph
is acyclic.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	resources := engine.ExpandForEach(cfg.Resources)
	if _, err := engine.BuildDAG(resources); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	registry := provider.NewRegistry()
	if err := loadProviders(ctx, registry, cfg, nil); err != nil {
		return err
	}

	for _, res := range resources {
		kind, _, err := registry.KindSchema(res.Kind)
		if err != nil {
			return fmt.Errorf("configuration is invalid: %s: %w", res.Address(), err)
		}
		if err := checkRequired(res.Address(), res.Properties, kind); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
	}

	fmt.Printf("Configuration is valid. %d resource(s) checked.\n", len(resources))
	return nil
}

func checkRequired(address string, props map[string]any, kind *schema.Kind) error {
	for name, attr := range kind.Attributes {
		if !attr.Required {
			continue
		}
		if v, ok := props[name]; !ok || v == nil {
			return fmt.Errorf("%s: required attribute %q is not set", address, name)
		}
	}
	return nil
}
