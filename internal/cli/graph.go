package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accord-io/accord/internal/engine"
	"github.com/accord-io/accord/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Print the dependency graph in DOT format",
	Long: `Builds the resource dependency graph from the configuration and prints
it in Graphviz DOT format. Render it with:

  accord graph | dot -Tsvg > graph.svg`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workDir(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resources := engine.ExpandForEach(cfg.Resources)
	dag, err := engine.BuildDAG(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph resources {\n")
	b.WriteString("  rankdir = \"LR\";\n")

	addrs := dag.CreationOrder()
	for _, addr := range addrs {
		fmt.Fprintf(&b, "  %q;\n", addr)
	}
	for _, addr := range addrs {
		deps := dag.Dependencies(addr)
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")

	fmt.Print(b.String())
	return nil
}
