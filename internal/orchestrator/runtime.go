package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AaronLay10/propmodel/internal/solver"
)

var (
	// ErrUnplannable is returned when no configured planner finds a plan.
	// The cycle is aborted before any method runs.
	ErrUnplannable = errors.New("model is unplannable")

	// ErrUnknownProperty is returned for a property id the model never issued.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrInvalidConstraint is returned by a Constraint handle no model issued.
	ErrInvalidConstraint = errors.New("invalid constraint handle")
)

// Model owns properties and constraints and keeps them consistent.
// It is not safe for concurrent use.
type Model struct {
	solver      solver.Solver
	properties  []propertyRecord
	constraints []constraintRecord

	state       State
	freezeDepth int
	pending     bool
	clock       uint64

	callback func()
	last     Cycle
}

// Option configures a Model.
type Option func(*Model)

// WithSolver replaces the default QuickPlan/Matching combination.
func WithSolver(s solver.Solver) Option {
	return func(m *Model) {
		m.solver = s
	}
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{
		solver: solver.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddProperty registers a property and returns its id. Ids are dense and
// never reused.
func (m *Model) AddProperty(initial any) PropertyID {
	m.properties = append(m.properties, propertyRecord{value: initial})
	return PropertyID(len(m.properties) - 1)
}

// AddConstraint registers an enabled constraint. It does not plan; call
// Refresh or write a property to bring the model up to date.
func (m *Model) AddConstraint(importance uint, methods ...Method) (Constraint, error) {
	return m.addConstraint(importance, true, methods)
}

// AddDisabledConstraint registers a constraint that starts excluded from
// planning. Enable it through the returned handle.
func (m *Model) AddDisabledConstraint(importance uint, methods ...Method) (Constraint, error) {
	return m.addConstraint(importance, false, methods)
}

func (m *Model) addConstraint(importance uint, enabled bool, methods []Method) (Constraint, error) {
	for i, meth := range methods {
		if err := m.checkMethod(meth); err != nil {
			return Constraint{}, fmt.Errorf("method %d: %w", i, err)
		}
	}
	m.constraints = append(m.constraints, constraintRecord{
		importance: importance,
		enabled:    enabled,
		methods:    append([]Method(nil), methods...),
	})
	return Constraint{m: m, id: ConstraintID(len(m.constraints) - 1)}, nil
}

func (m *Model) checkMethod(meth Method) error {
	inputs := make(map[PropertyID]struct{}, len(meth.Inputs))
	for _, id := range meth.Inputs {
		if !m.hasProperty(id) {
			return fmt.Errorf("%w: input property %d out of range", solver.ErrInvalidTask, id)
		}
		inputs[id] = struct{}{}
	}
	for _, id := range meth.Outputs {
		if !m.hasProperty(id) {
			return fmt.Errorf("%w: output property %d out of range", solver.ErrInvalidTask, id)
		}
		if _, ok := inputs[id]; ok {
			return fmt.Errorf("%w: property %d is both input and output", solver.ErrInvalidTask, id)
		}
	}
	return nil
}

func (m *Model) hasProperty(id PropertyID) bool {
	return id >= 0 && int(id) < len(m.properties)
}

// PropertyCount returns the number of registered properties.
func (m *Model) PropertyCount() int {
	return len(m.properties)
}

// ConstraintCount returns the number of registered constraints.
func (m *Model) ConstraintCount() int {
	return len(m.constraints)
}

// Constraint returns a handle for a registered constraint.
func (m *Model) Constraint(id ConstraintID) (Constraint, bool) {
	if id < 0 || int(id) >= len(m.constraints) {
		return Constraint{}, false
	}
	return Constraint{m: m, id: id}, true
}

// Value returns the current value of a property, or nil if the id is unknown.
func (m *Model) Value(id PropertyID) any {
	if !m.hasProperty(id) {
		return nil
	}
	return m.properties[id].value
}

// LastWrite returns the logical time of the last external write to a
// property. Zero means never written.
func (m *Model) LastWrite(id PropertyID) uint64 {
	if !m.hasProperty(id) {
		return 0
	}
	return m.properties[id].stamp
}

// Set writes a property. Outside an update the write is stamped and, unless
// the model is frozen, planned immediately. Writes made by methods during
// an update are neither stamped nor planned.
func (m *Model) Set(id PropertyID, value any) error {
	if !m.hasProperty(id) {
		return fmt.Errorf("%w: %d", ErrUnknownProperty, id)
	}
	m.properties[id].value = value
	if m.state == StateUpdating {
		return nil
	}
	m.clock++
	m.properties[id].stamp = m.clock
	return m.trigger()
}

// State returns the current update-cycle state.
func (m *Model) State() State {
	return m.state
}

// LastCycle returns a copy of the most recent completed update.
func (m *Model) LastCycle() Cycle {
	c := m.last
	c.Steps = append([]Step(nil), m.last.Steps...)
	return c
}

// RegisterCallback sets the function fired after every completed update
// and fires it once now.
func (m *Model) RegisterCallback(cb func()) {
	m.callback = cb
	if cb != nil && m.state == StateIdle {
		cb()
	}
}

// UnregisterCallback removes the update callback.
func (m *Model) UnregisterCallback() {
	m.callback = nil
}

// Refresh plans and executes one update now. While frozen the update is
// deferred to the final unfreeze.
func (m *Model) Refresh() error {
	return m.trigger()
}

// Freeze suspends planning until the returned function is called. Writes
// made meanwhile are stamped and folded into a single update when the
// outermost freeze ends; that update's error is returned.
func (m *Model) Freeze() (unfreeze func() error) {
	m.freezeDepth++
	if m.state == StateIdle {
		m.state = StateFrozen
	}
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		return m.unfreeze()
	}
}

func (m *Model) unfreeze() error {
	m.freezeDepth--
	if m.freezeDepth > 0 || m.state != StateFrozen {
		return nil
	}
	m.state = StateIdle
	if !m.pending {
		return nil
	}
	m.pending = false
	return m.update()
}

func (m *Model) trigger() error {
	switch m.state {
	case StateIdle:
		return m.update()
	case StateFrozen:
		m.pending = true
	}
	return nil
}

// binding maps a task method back to the model.
type binding struct {
	step  Step
	apply func()
}

func (m *Model) update() error {
	m.state = StateUpdating
	start := time.Now()

	task, bindings := m.buildTask()
	sol, ok, err := m.solver.TrySolve(task)
	if err != nil {
		m.settle()
		return fmt.Errorf("plan model: %w", err)
	}
	if !ok {
		m.settle()
		return fmt.Errorf("%w: %d enabled constraints over %d properties",
			ErrUnplannable, task.Constraints-len(m.properties), len(m.properties))
	}

	steps := make([]Step, 0, len(sol.Methods))
	for _, idx := range sol.Methods {
		b := bindings[idx]
		if b.apply != nil {
			b.apply()
		}
		steps = append(steps, b.step)
	}

	for i := range m.constraints {
		m.constraints[i].fulfilled = false
	}
	fulfilled := 0
	for _, s := range steps {
		if s.IsStay() {
			continue
		}
		rec := &m.constraints[s.Constraint]
		if !rec.fulfilled {
			rec.fulfilled = true
			fulfilled++
		}
	}

	m.last = Cycle{
		Clock:     m.clock,
		Solver:    sol.Solver,
		Steps:     steps,
		Fulfilled: fulfilled,
		Duration:  time.Since(start),
	}

	m.settle()
	if m.state == StateIdle && m.callback != nil {
		m.callback()
	}
	return nil
}

// settle leaves the Updating state.
func (m *Model) settle() {
	if m.freezeDepth > 0 {
		m.state = StateFrozen
		return
	}
	m.state = StateIdle
}

// buildTask lays out enabled constraints by ascending importance, then one
// stay per property, most recently written first.
func (m *Model) buildTask() (solver.Task, []binding) {
	order := make([]int, 0, len(m.constraints))
	for id, rec := range m.constraints {
		if rec.enabled {
			order = append(order, id)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return m.constraints[order[i]].importance < m.constraints[order[j]].importance
	})

	recency := make([]int, len(m.properties))
	for i := range recency {
		recency[i] = i
	}
	sort.SliceStable(recency, func(i, j int) bool {
		return m.properties[recency[i]].stamp > m.properties[recency[j]].stamp
	})

	task := solver.Task{
		Properties:  len(m.properties),
		Constraints: len(order) + len(m.properties),
	}
	var bindings []binding
	for pos, id := range order {
		for idx, meth := range m.constraints[id].methods {
			task.Methods = append(task.Methods, solver.Method{
				Constraint: pos,
				Inputs:     toInts(meth.Inputs),
				Outputs:    toInts(meth.Outputs),
			})
			bindings = append(bindings, binding{
				step:  Step{Constraint: ConstraintID(id), Method: idx, Property: -1},
				apply: meth.Apply,
			})
		}
	}
	for pos, id := range recency {
		task.Methods = append(task.Methods, solver.Method{
			Constraint: len(order) + pos,
			Outputs:    []int{id},
		})
		bindings = append(bindings, binding{
			step: Step{Constraint: -1, Method: -1, Property: PropertyID(id)},
		})
	}
	return task, bindings
}

func toInts(ids []PropertyID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
