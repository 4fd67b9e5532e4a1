package ir

import "fmt"

// ConfigError reports a malformed declaration or an unresolved reference.
// It is fatal before any provider call is made.
type ConfigError struct {
	Address string // offending resource, if known
	Detail  string
}

func (e *ConfigError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Address, e.Detail)
	}
	return fmt.Sprintf("configuration error: %s", e.Detail)
}
