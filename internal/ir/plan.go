package ir

// Action is the planned operation for a single resource.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
	ActionNoOp    Action = "NOOP"
)

// Plan represents a calculated execution plan. It is immutable once
// computed; an apply consumes exactly one plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp      string `json:"timestamp"`
	PriorSerial    int64  `json:"priorSerial"`
	TargetsDestroy bool   `json:"targetsDestroy,omitempty"`
}

// ResourceChange is one (address, action, reason) tuple, plus the data the
// executor needs to carry it out.
type ResourceChange struct {
	Address string `json:"address"`
	Action  Action `json:"action"`
	Reason  string `json:"reason,omitempty"`

	Desired *Resource                `json:"resource,omitempty"`
	Prior   *ResourceState           `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`

	// CreateBeforeDestroy selects the zero-downtime replace ordering. It is
	// only set when the lifecycle asks for it and the kind supports it.
	CreateBeforeDestroy bool `json:"createBeforeDestroy,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}
