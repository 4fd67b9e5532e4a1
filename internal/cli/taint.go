package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/ir"
)

var taintCmd = &cobra.Command{
	Use:   "taint <address>",
	Short: "Mark a resource for recreation",
	Long: `Marks a resource as tainted, forcing it to be destroyed and recreated
on the next apply.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaint,
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <address>",
	Short: "Remove taint from a resource",
	Long:  `Removes the taint mark from a resource, preventing forced recreation.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUntaint,
}

func runTaint(cmd *cobra.Command, args []string) error {
	return setFreshness(cmd, args[0], ir.StatusTainted,
		"Resource %s has been tainted. It will be recreated on next apply.\n")
}

func runUntaint(cmd *cobra.Command, args []string) error {
	return setFreshness(cmd, args[0], ir.StatusSynced,
		"Resource %s has been untainted.\n")
}

func setFreshness(cmd *cobra.Command, target string, status ir.Status, doneMsg string) error {
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

	rs, ok := store.Read(target)
	if !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}

	rs.Status = status
	if err := store.Write(target, rs); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf(doneMsg, target)
	return nil
}
