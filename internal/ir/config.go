package ir

// Config represents the top-level configuration.
type Config struct {
	Providers map[string]map[string]any `pkl:"providers"`
	Variables map[string]any            `pkl:"variables"`
	Resources []*Resource               `pkl:"resources"`
	Outputs   map[string]any            `pkl:"outputs"`
}
