// Package schema describes resource kinds: which attributes they carry,
// how attribute changes map to plan actions, and what lifecycle
// capabilities the provider implements for them.
package schema

// Attribute classifies a single attribute of a resource kind.
type Attribute struct {
	// Required attributes must be set in configuration.
	Required bool

	// ForceNew attributes cannot change in place; a mismatch forces
	// replacement of the whole resource.
	ForceNew bool

	// Computed attributes are assigned by the provider and ignored when
	// diffing declared configuration against state.
	Computed bool
}

// Kind is the schema of one resource kind.
type Kind struct {
	// Name is the kind identifier, e.g. "aws:Vpc".
	Name string

	Attributes map[string]Attribute

	// CanUpdate reports whether the provider implements in-place updates
	// for this kind. Kinds without update capability replace on any
	// attribute mismatch.
	CanUpdate bool

	// CreateBeforeDestroy reports whether the provider tolerates the new
	// resource existing before the old one is destroyed. Replacement
	// defaults to destroy-then-create either way; this only permits the
	// opposite ordering when the lifecycle asks for it.
	CreateBeforeDestroy bool
}

// Classify returns the attribute schema for name. Unknown attributes are
// treated as updatable so providers can accept open-ended property bags.
func (k *Kind) Classify(name string) Attribute {
	if k.Attributes == nil {
		return Attribute{}
	}
	return k.Attributes[name]
}
