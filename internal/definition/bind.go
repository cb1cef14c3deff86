package definition

import (
	"fmt"

	"github.com/AaronLay10/propmodel/internal/orchestrator"
)

// Instance is a definition bound to a live model. Property values are
// float64. Like the model it wraps, it is not safe for concurrent use.
type Instance struct {
	def   *Definition
	model *orchestrator.Model

	propIDs     map[string]orchestrator.PropertyID
	propNames   []string
	constraints map[string]orchestrator.Constraint
	consNames   []string

	evalErrors []error
}

// Bind builds a model from def. Constraints are registered in file order;
// the model is not planned until Refresh or the first write.
func Bind(def *Definition, opts ...orchestrator.Option) (*Instance, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	inst := &Instance{
		def:         def,
		model:       orchestrator.New(opts...),
		propIDs:     make(map[string]orchestrator.PropertyID, len(def.Properties)),
		constraints: make(map[string]orchestrator.Constraint, len(def.Constraints)),
	}

	for _, p := range def.Properties {
		inst.propIDs[p.Name] = inst.model.AddProperty(p.Initial)
		inst.propNames = append(inst.propNames, p.Name)
	}

	for _, c := range def.Constraints {
		methods := make([]orchestrator.Method, 0, len(c.Methods))
		for i, m := range c.Methods {
			meth, err := inst.bindMethod(c.Name, i, m)
			if err != nil {
				return nil, err
			}
			methods = append(methods, meth)
		}
		add := inst.model.AddConstraint
		if !c.IsEnabled() {
			add = inst.model.AddDisabledConstraint
		}
		handle, err := add(c.Importance, methods...)
		if err != nil {
			return nil, fmt.Errorf("%w: constraint %q: %v", ErrInvalidDefinition, c.Name, err)
		}
		inst.constraints[c.Name] = handle
		inst.consNames = append(inst.consNames, c.Name)
	}

	return inst, nil
}

type assignment struct {
	out  orchestrator.PropertyID
	name string
	expr *Expr
}

func (inst *Instance) bindMethod(constraint string, index int, m MethodDef) (orchestrator.Method, error) {
	meth := orchestrator.Method{}
	for _, name := range m.In {
		meth.Inputs = append(meth.Inputs, inst.propIDs[name])
	}

	assigns := make([]assignment, 0, len(m.Out))
	for _, name := range m.Out {
		e, err := ParseExpr(m.Set[name], m.In)
		if err != nil {
			return orchestrator.Method{}, fmt.Errorf("%w: constraint %q method %d: %v", ErrInvalidDefinition, constraint, index, err)
		}
		id := inst.propIDs[name]
		meth.Outputs = append(meth.Outputs, id)
		assigns = append(assigns, assignment{out: id, name: name, expr: e})
	}

	meth.Apply = func() {
		results := make([]float64, len(assigns))
		for i, a := range assigns {
			v, err := a.expr.Eval(inst.lookup)
			if err != nil {
				inst.evalErrors = append(inst.evalErrors,
					fmt.Errorf("constraint %q method %d: %s = %s: %w", constraint, index, a.name, a.expr, err))
				return
			}
			results[i] = v
		}
		for i, a := range assigns {
			_ = inst.model.Set(a.out, results[i])
		}
	}
	return meth, nil
}

func (inst *Instance) lookup(name string) (float64, bool) {
	return inst.Value(name)
}

// Definition returns the definition the instance was built from.
func (inst *Instance) Definition() *Definition {
	return inst.def
}

// Model returns the underlying model.
func (inst *Instance) Model() *orchestrator.Model {
	return inst.model
}

// Property looks up a property id by name.
func (inst *Instance) Property(name string) (orchestrator.PropertyID, bool) {
	id, ok := inst.propIDs[name]
	return id, ok
}

// Constraint looks up a constraint handle by name.
func (inst *Instance) Constraint(name string) (orchestrator.Constraint, bool) {
	c, ok := inst.constraints[name]
	return c, ok
}

// Names returns property names in declaration order.
func (inst *Instance) Names() []string {
	return append([]string(nil), inst.propNames...)
}

// ConstraintNames returns constraint names in declaration order.
func (inst *Instance) ConstraintNames() []string {
	return append([]string(nil), inst.consNames...)
}

// PropertyName returns the name of a property id, or "" if unknown.
func (inst *Instance) PropertyName(id orchestrator.PropertyID) string {
	if id < 0 || int(id) >= len(inst.propNames) {
		return ""
	}
	return inst.propNames[id]
}

// ConstraintName returns the name of a constraint id, or "" if unknown.
func (inst *Instance) ConstraintName(id orchestrator.ConstraintID) string {
	if id < 0 || int(id) >= len(inst.consNames) {
		return ""
	}
	return inst.consNames[id]
}

// Value returns the current value of a named property.
func (inst *Instance) Value(name string) (float64, bool) {
	id, ok := inst.propIDs[name]
	if !ok {
		return 0, false
	}
	v, ok := inst.model.Value(id).(float64)
	return v, ok
}

// Values returns all current values keyed by name.
func (inst *Instance) Values() map[string]float64 {
	out := make(map[string]float64, len(inst.propNames))
	for _, name := range inst.propNames {
		v, _ := inst.Value(name)
		out[name] = v
	}
	return out
}

// Set writes a named property.
func (inst *Instance) Set(name string, value float64) error {
	id, ok := inst.propIDs[name]
	if !ok {
		return fmt.Errorf("%w: %q", orchestrator.ErrUnknownProperty, name)
	}
	return inst.model.Set(id, value)
}

// TakeEvalErrors returns and clears the expression errors raised by
// methods since the last call. A failed method leaves its outputs unchanged.
func (inst *Instance) TakeEvalErrors() []error {
	errs := inst.evalErrors
	inst.evalErrors = nil
	return errs
}
