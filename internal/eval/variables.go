package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/accord-io/accord/internal/ir"
)

// Variables holds the merged variable values for a run. Precedence, low
// to high: declared defaults in the configuration, var files in the
// order given, then individual overrides.
type Variables struct {
	values map[string]any
}

// NewVariables builds the merged value set from var files and key=value
// overrides.
func NewVariables(varFiles []string, overrides []string) (*Variables, error) {
	v := &Variables{values: make(map[string]any)}

	for _, path := range varFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read var file %s: %w", path, err)
		}
		var fileVars map[string]any
		if err := json.Unmarshal(data, &fileVars); err != nil {
			return nil, fmt.Errorf("failed to parse var file %s: %w", path, err)
		}
		for k, val := range fileVars {
			v.values[k] = val
		}
	}

	for _, pair := range overrides {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}
		v.values[key] = val
	}

	return v, nil
}

// ResolveVariables substitutes every var:// reference in the
// configuration with its merged value. A reference to an undeclared
// variable is a configuration error.
func ResolveVariables(cfg *ir.Config, vars *Variables) error {
	merged := make(map[string]any, len(cfg.Variables))
	for k, v := range cfg.Variables {
		merged[k] = v
	}
	if vars != nil {
		for k, v := range vars.values {
			merged[k] = v
		}
	}

	for name, settings := range cfg.Providers {
		resolved, err := resolveVarValue(settings, merged, "provider "+name)
		if err != nil {
			return err
		}
		cfg.Providers[name], _ = resolved.(map[string]any)
	}

	for _, res := range cfg.Resources {
		resolved, err := resolveVarValue(res.Properties, merged, res.Address())
		if err != nil {
			return err
		}
		res.Properties, _ = resolved.(map[string]any)
	}

	resolved, err := resolveVarValue(cfg.Outputs, merged, "outputs")
	if err != nil {
		return err
	}
	cfg.Outputs, _ = resolved.(map[string]any)

	return nil
}

func resolveVarValue(val any, vars map[string]any, context string) (any, error) {
	switch v := val.(type) {
	case string:
		if name, ok := strings.CutPrefix(v, "var://"); ok {
			value, declared := vars[name]
			if !declared {
				return nil, &ir.ConfigError{
					Address: context,
					Detail:  fmt.Sprintf("reference to undeclared variable %q", name),
				}
			}
			return value, nil
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			r, err := resolveVarValue(inner, vars, context)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			r, err := resolveVarValue(inner, vars, context)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}
