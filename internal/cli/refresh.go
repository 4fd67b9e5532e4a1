package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Sync state with real-world resources",
	Long: `Reads every resource recorded in state from its provider and updates
the recorded attributes. Resources missing from the provider are marked
stale and will be recreated on the next apply.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
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
		fmt.Println("No resources in state.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadProviders(ctx, registry, nil, snap); err != nil {
		return err
	}

	addrs := make([]string, 0, len(snap.Resources))
	for addr := range snap.Resources {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var refreshed, missing int
	for _, addr := range addrs {
		rs := snap.Resources[addr]
		p, err := registry.Provider(rs.Provider)
		if err != nil {
			return err
		}

		attrs, err := p.Read(ctx, rs.Kind, rs.ID)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			rs.Status = ir.StatusStale
			missing++
			fmt.Printf("%s: missing from provider, marked stale\n", addr)
		case err != nil:
			return fmt.Errorf("failed to read %s: %w", addr, err)
		default:
			rs.Outputs = attrs
			if rs.Status == ir.StatusStale {
				rs.Status = ir.StatusSynced
			}
			refreshed++
			fmt.Printf("%s: refreshed\n", addr)
		}

		if err := store.Write(addr, rs); err != nil {
			return fmt.Errorf("failed to write state for %s: %w", addr, err)
		}
	}

	fmt.Printf("\nRefresh complete. %d refreshed, %d missing.\n", refreshed, missing)
	return nil
}
