package ir

// StateVersion is the current schema version of the persisted state
// document. Documents with a newer or unrecognized version are refused.
const StateVersion = 1

// Status is the freshness flag of a stored resource.
type Status string

const (
	// StatusSynced means the stored attributes match the last successful
	// provider operation.
	StatusSynced Status = "synced"
	// StatusStale means the resource could not be found during a refresh
	// and the stored record is no longer trusted.
	StatusStale Status = "stale"
	// StatusTainted marks the resource for replacement on the next apply.
	StatusTainted Status = "tainted"
)

// State is the persisted snapshot of everything under management: a single
// versioned document mapping address to resource state.
type State struct {
	Version   int                       `json:"version"`
	Serial    int64                     `json:"serial"`
	Lineage   string                    `json:"lineage"`
	Resources map[string]*ResourceState `json:"resources"`
	Outputs   map[string]any            `json:"outputs,omitempty"`
}

// NewState returns an empty state document at the current schema version.
func NewState() *State {
	return &State{
		Version:   StateVersion,
		Resources: make(map[string]*ResourceState),
	}
}

// ResourceState is the last-known real-world record of one managed
// resource. It is owned by the state store and mutated only after a
// provider call succeeds.
type ResourceState struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Provider string `json:"provider"`

	// ID is the provider-assigned identifier.
	ID string `json:"id,omitempty"`

	// Attributes are the declared values last applied.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Outputs are the actual values the provider returned.
	Outputs map[string]any `json:"outputs,omitempty"`

	Status       Status   `json:"status"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Address returns the state entry's address (kind.name).
func (rs *ResourceState) Address() string {
	return rs.Kind + "." + rs.Name
}
