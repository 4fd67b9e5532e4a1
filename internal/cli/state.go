package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources recorded in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the recorded state of a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Forget a resource without destroying it",
	Long: `Removes a resource record from state. The real resource is left
untouched; a later plan will offer to create it again.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateRm,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource record to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
	stateCmd.AddCommand(stateMvCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(nil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	resources := store.All()
	if len(resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	addrs := make([]string, 0, len(resources))
	for addr := range resources {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		fmt.Println(addr)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(nil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	rs, ok := store.Read(args[0])
	if !ok {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize resource state: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(nil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	target := args[0]
	if _, ok := store.Read(target); !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}
	if err := store.Delete(target); err != nil {
		return fmt.Errorf("failed to remove %s: %w", target, err)
	}

	fmt.Printf("Removed %s from state. The real resource was not touched.\n", target)
	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(nil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	src, dst := args[0], args[1]
	if err := moveStateRecord(store, src, dst); err != nil {
		return err
	}

	fmt.Printf("Moved %s to %s.\n", src, dst)
	return nil
}

// moveStateRecord renames a state record. The record takes on the
// identity of the destination address so the map key and its contents
// stay in agreement.
func moveStateRecord(store state.Store, src, dst string) error {
	rs, ok := store.Read(src)
	if !ok {
		return fmt.Errorf("resource %s not found in state", src)
	}
	if _, exists := store.Read(dst); exists {
		return fmt.Errorf("destination %s already exists in state", dst)
	}
	dstKind, dstName, ok := ir.ParseAddress(dst)
	if !ok {
		return fmt.Errorf("invalid destination address %s (expected kind.name)", dst)
	}

	moved := *rs
	moved.Kind = dstKind
	moved.Name = dstName

	if err := store.Write(dst, &moved); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := store.Delete(src); err != nil {
		return fmt.Errorf("failed to remove %s: %w", src, err)
	}
	return nil
}
