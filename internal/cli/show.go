package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current state",
	Long:  `Displays a human-readable view of the current state document.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	wd, _, err := workDir(nil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	s := store.Snapshot()

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	fmt.Printf("Resources: %d\n\n", len(s.Resources))

	addrs := make([]string, 0, len(s.Resources))
	for addr := range s.Resources {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		rs := s.Resources[addr]
		fmt.Printf("# %s\n", addr)
		fmt.Printf("  provider = %s\n", rs.Provider)
		fmt.Printf("  id       = %s\n", rs.ID)
		if rs.Status != "" {
			fmt.Printf("  status   = %s\n", rs.Status)
		}
		for _, k := range sortedKeys(rs.Outputs) {
			fmt.Printf("  %s = %v\n", k, rs.Outputs[k])
		}
		fmt.Println()
	}

	if len(s.Outputs) > 0 {
		fmt.Println("Outputs:")
		for _, k := range sortedKeys(s.Outputs) {
			fmt.Printf("  %s = %v\n", k, s.Outputs[k])
		}
	}

	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
