package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/eval"
	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
)

var importCmd = &cobra.Command{
	Use:   "import <address> <id>",
	Short: "Bring an existing resource under management",
	Long: `Reads an existing resource from its provider by ID and records it in
state under the given address. The address must match a resource block
in the configuration.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workDir(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	address, id := args[0], args[1]

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var declared *ir.Resource
	for _, res := range cfg.Resources {
		if res.Address() == address {
			declared = res
			break
		}
	}
	if declared == nil {
		return fmt.Errorf("address %s is not declared in the configuration", address)
	}

	store, err := openStore(ctx, wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	if _, exists := store.Read(address); exists {
		return fmt.Errorf("resource %s is already managed; remove it first with: accord state rm %s", address, address)
	}

	registry := provider.NewRegistry()
	if err := loadProviders(ctx, registry, cfg, nil); err != nil {
		return err
	}

	p, err := registry.Provider(declared.Provider)
	if err != nil {
		return err
	}

	attrs, err := p.Read(ctx, declared.Kind, id)
	if err != nil {
		return fmt.Errorf("failed to read %s %q from provider: %w", declared.Kind, id, err)
	}

	name := address
	if _, after, ok := strings.Cut(address, "."); ok {
		name = after
	}

	rs := &ir.ResourceState{
		Kind:     declared.Kind,
		Name:     name,
		Provider: declared.Provider,
		ID:       id,
		// The next plan diffs the declared properties against these and
		// shows what an apply would change.
		Attributes:   attrs,
		Outputs:      attrs,
		Status:       ir.StatusSynced,
		Dependencies: declared.DependsOn,
	}
	if err := store.Write(address, rs); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Imported %s (ID %s). Run 'accord plan' to review drift from the configuration.\n", address, id)
	return nil
}
