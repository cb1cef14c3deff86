package session

import (
	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/orchestrator"
)

// PropertyState is one property in a snapshot.
type PropertyState struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	LastWrite uint64  `json:"last_write"`
}

// ConstraintState is one constraint in a snapshot.
type ConstraintState struct {
	Name       string `json:"name"`
	Importance uint   `json:"importance"`
	Enabled    bool   `json:"enabled"`
	Fulfilled  bool   `json:"fulfilled"`
	Methods    int    `json:"methods"`
}

// PlanStep is one executed step of the last plan. Stay steps name the
// property they kept; method steps name the constraint and method index.
type PlanStep struct {
	Constraint string `json:"constraint,omitempty"`
	Method     int    `json:"method"`
	Stay       string `json:"stay,omitempty"`
}

// PlanView describes the last completed update.
type PlanView struct {
	Clock      uint64     `json:"clock"`
	Solver     string     `json:"solver"`
	Fulfilled  int        `json:"fulfilled"`
	DurationUS int64      `json:"duration_us"`
	Steps      []PlanStep `json:"steps"`
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	Session     string            `json:"session"`
	Model       string            `json:"model"`
	State       string            `json:"state"`
	Properties  []PropertyState   `json:"properties"`
	Constraints []ConstraintState `json:"constraints"`
	Plan        PlanView          `json:"plan"`
}

// Snapshot returns the current values, constraint flags and last plan.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst := s.inst
	model := inst.Model()
	snap := Snapshot{
		Session: s.id,
		Model:   inst.Definition().Model.Name,
		State:   string(model.State()),
		Plan:    planView(inst),
	}
	for _, name := range inst.Names() {
		id, _ := inst.Property(name)
		v, _ := inst.Value(name)
		snap.Properties = append(snap.Properties, PropertyState{
			Name:      name,
			Value:     v,
			LastWrite: model.LastWrite(id),
		})
	}
	for _, name := range inst.ConstraintNames() {
		c, _ := inst.Constraint(name)
		snap.Constraints = append(snap.Constraints, ConstraintState{
			Name:       name,
			Importance: c.Importance(),
			Enabled:    c.IsEnabled(),
			Fulfilled:  c.IsFulfilled(),
			Methods:    c.MethodCount(),
		})
	}
	return snap
}

// Plan returns the last completed update.
func (s *Session) Plan() PlanView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return planView(s.inst)
}

// Values returns the current values keyed by name.
func (s *Session) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.Values()
}

// Names returns property names in declaration order.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.Names()
}

func planView(inst *definition.Instance) PlanView {
	cycle := inst.Model().LastCycle()
	view := PlanView{
		Clock:      cycle.Clock,
		Solver:     cycle.Solver,
		Fulfilled:  cycle.Fulfilled,
		DurationUS: cycle.Duration.Microseconds(),
		Steps:      make([]PlanStep, 0, len(cycle.Steps)),
	}
	for _, step := range cycle.Steps {
		view.Steps = append(view.Steps, planStep(inst, step))
	}
	return view
}

func planStep(inst *definition.Instance, step orchestrator.Step) PlanStep {
	if step.IsStay() {
		return PlanStep{Method: -1, Stay: inst.PropertyName(step.Property)}
	}
	return PlanStep{
		Constraint: inst.ConstraintName(step.Constraint),
		Method:     step.Method,
	}
}
