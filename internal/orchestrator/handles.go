package orchestrator

import "fmt"

// Constraint is a handle to a registered constraint. Only handles returned
// by AddConstraint, AddDisabledConstraint or Model.Constraint are valid; the
// zero value reports zero values and its setters return ErrInvalidConstraint.
type Constraint struct {
	m  *Model
	id ConstraintID
}

// ID returns the constraint's dense id.
func (c Constraint) ID() ConstraintID {
	return c.id
}

func (c Constraint) record() *constraintRecord {
	if c.m == nil || c.id < 0 || int(c.id) >= len(c.m.constraints) {
		return nil
	}
	return &c.m.constraints[c.id]
}

func (c Constraint) invalid() error {
	return fmt.Errorf("%w: %d", ErrInvalidConstraint, c.id)
}

// Importance returns the planning rank. Lower values are planned first
// and win conflicts.
func (c Constraint) Importance() uint {
	if rec := c.record(); rec != nil {
		return rec.importance
	}
	return 0
}

// SetImportance changes the planning rank and triggers an update.
func (c Constraint) SetImportance(importance uint) error {
	rec := c.record()
	if rec == nil {
		return c.invalid()
	}
	if rec.importance == importance {
		return nil
	}
	rec.importance = importance
	return c.m.trigger()
}

// Enable includes the constraint in planning and triggers an update.
func (c Constraint) Enable() error {
	return c.setEnabled(true)
}

// Disable excludes the constraint from planning and triggers an update.
func (c Constraint) Disable() error {
	return c.setEnabled(false)
}

func (c Constraint) setEnabled(enabled bool) error {
	rec := c.record()
	if rec == nil {
		return c.invalid()
	}
	if rec.enabled == enabled {
		return nil
	}
	rec.enabled = enabled
	if !enabled {
		rec.fulfilled = false
	}
	return c.m.trigger()
}

// IsEnabled returns true if the constraint takes part in planning.
func (c Constraint) IsEnabled() bool {
	rec := c.record()
	return rec != nil && rec.enabled
}

// IsFulfilled returns true if the constraint is enabled and one of its
// methods ran in the last update.
func (c Constraint) IsFulfilled() bool {
	rec := c.record()
	return rec != nil && rec.enabled && rec.fulfilled
}

// MethodCount returns the number of methods the constraint offers.
func (c Constraint) MethodCount() int {
	if rec := c.record(); rec != nil {
		return len(rec.methods)
	}
	return 0
}

// Property is a typed handle to a model property.
type Property[T any] struct {
	m  *Model
	id PropertyID
}

// NewProperty registers a property holding values of type T.
func NewProperty[T any](m *Model, initial T) Property[T] {
	return Property[T]{m: m, id: m.AddProperty(initial)}
}

// ID returns the property's dense id.
func (p Property[T]) ID() PropertyID {
	return p.id
}

// Get returns the current value, or the zero value if it does not hold a T.
func (p Property[T]) Get() T {
	v, _ := p.m.Value(p.id).(T)
	return v
}

// Set writes the property; see Model.Set.
func (p Property[T]) Set(v T) error {
	return p.m.Set(p.id, v)
}
