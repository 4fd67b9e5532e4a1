package cli

import (
	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/logging"
)

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "accord",
	Short: "Declarative infrastructure reconciliation",
	Long: `Accord reconciles declared resources against their real-world
counterparts. It reads a PKL configuration describing the desired state,
compares it to recorded state, and creates, updates, or deletes
resources to close the gap.

Plans are explicit and reviewable before anything is changed, and state
is tracked per resource so partial failures never lose track of what
already exists.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(versionCmd)
}
