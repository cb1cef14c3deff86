package orchestrator

import "time"

// State is the update-cycle state of a model.
type State string

const (
	StateIdle     State = "idle"
	StateUpdating State = "updating"
	StateFrozen   State = "frozen"
)

// PropertyID is the dense index of a property within its model.
type PropertyID int

// ConstraintID is the dense index of a constraint within its model.
type ConstraintID int

// Method is one way to satisfy a constraint. Apply reads Inputs and
// writes Outputs; it may be nil for a method without outputs.
type Method struct {
	Inputs  []PropertyID
	Outputs []PropertyID
	Apply   func()
}

// Step is one method executed by an update cycle. Stay steps keep a
// property's value and have Constraint and Method set to -1.
type Step struct {
	Constraint ConstraintID `json:"constraint"`
	Method     int          `json:"method"`
	Property   PropertyID   `json:"property"`
}

// IsStay returns true if the step only kept a property's value.
func (s Step) IsStay() bool {
	return s.Constraint < 0
}

// Cycle describes the most recent completed update.
type Cycle struct {
	Clock     uint64        `json:"clock"`
	Solver    string        `json:"solver"`
	Steps     []Step        `json:"steps"`
	Fulfilled int           `json:"fulfilled"`
	Duration  time.Duration `json:"duration"`
}

type propertyRecord struct {
	value any
	stamp uint64
}

type constraintRecord struct {
	importance uint
	enabled    bool
	fulfilled  bool
	methods    []Method
}
