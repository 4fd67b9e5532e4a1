package ir

import (
	"fmt"
	"strings"
)

// Resource represents a single declared resource.
type Resource struct {
	Kind       string         `pkl:"kind"` // e.g., "aws:Vpc"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Count      int            `pkl:"count"`
	ForEach    map[string]any `pkl:"forEach"`
	Timeout    string         `pkl:"timeout"`
	Properties map[string]any `pkl:"properties"` // Dynamic properties
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}

// Address returns the unique address of a resource (kind.name).
func (r *Resource) Address() string {
	return fmt.Sprintf("%s.%s", r.Kind, r.Name)
}

// ParseAddress splits an address of the form kind.name back into its
// parts. Kind identifiers never contain a dot, so the first dot is the
// separator.
func ParseAddress(addr string) (kind, name string, ok bool) {
	kind, name, ok = strings.Cut(addr, ".")
	if kind == "" || name == "" {
		return "", "", false
	}
	return kind, name, true
}
