package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Accord project",
	Long:  `Creates a new Accord project with default configuration files.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(accordDir(), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", accordDir(), err)
	}

	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// Accord configuration
// See: https://github.com/accord-io/accord

amends "accord:Config"

providers {
  // Add your provider configurations here
}

resources {
  // Add your resources here
}

outputs {
  // Add your outputs here
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	fmt.Println("\nAccord initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to define your infrastructure")
	fmt.Println("  2. Run 'accord plan' to see what will be created")
	fmt.Println("  3. Run 'accord apply' to create your infrastructure")

	return nil
}
