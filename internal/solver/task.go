// Package solver plans which constraint methods run, and in what order,
// for a property model update.
package solver

import (
	"errors"
	"fmt"
)

// ErrInvalidTask marks a malformed task. It is a usage error, never a
// planning outcome.
var ErrInvalidTask = errors.New("invalid task")

// Method describes one way of satisfying a constraint: it reads Inputs
// and writes Outputs. A method without outputs is degenerate.
type Method struct {
	Constraint int   `json:"constraint"`
	Inputs     []int `json:"inputs"`
	Outputs    []int `json:"outputs"`
}

// Task is the planner-facing view of a model.
type Task struct {
	Properties  int      `json:"properties"`
	Constraints int      `json:"constraints"`
	Methods     []Method `json:"methods"`
}

// Solution is an ordered plan of indices into Task.Methods. Producers
// precede consumers.
type Solution struct {
	Methods []int  `json:"methods"`
	Solver  string `json:"solver"`
}

// Applicability is a planner's self-reported ability to handle a task.
type Applicability int

const (
	NotApplicable Applicability = iota
	Applicable
	MaybeApplicable
)

func (a Applicability) String() string {
	switch a {
	case NotApplicable:
		return "not_applicable"
	case Applicable:
		return "applicable"
	case MaybeApplicable:
		return "maybe_applicable"
	default:
		return fmt.Sprintf("applicability(%d)", int(a))
	}
}

// Solver is implemented by every planning strategy.
//
// TrySolve returns ok=false with a nil error when no plan exists. A
// non-nil error always wraps ErrInvalidTask.
type Solver interface {
	Name() string
	Applicability(task Task) (Applicability, error)
	TrySolve(task Task) (Solution, bool, error)
}

// Validate checks that every id in the task is in range and that no
// method reads a property it also writes.
func Validate(task Task) error {
	if task.Properties < 0 || task.Constraints < 0 {
		return fmt.Errorf("%w: negative counts", ErrInvalidTask)
	}
	for i, m := range task.Methods {
		if m.Constraint < 0 || m.Constraint >= task.Constraints {
			return fmt.Errorf("%w: method %d: constraint id %d out of range [0, %d)",
				ErrInvalidTask, i, m.Constraint, task.Constraints)
		}
		inputs := make(map[int]struct{}, len(m.Inputs))
		for _, id := range m.Inputs {
			if id < 0 || id >= task.Properties {
				return fmt.Errorf("%w: method %d: input property id %d out of range [0, %d)",
					ErrInvalidTask, i, id, task.Properties)
			}
			inputs[id] = struct{}{}
		}
		for _, id := range m.Outputs {
			if id < 0 || id >= task.Properties {
				return fmt.Errorf("%w: method %d: output property id %d out of range [0, %d)",
					ErrInvalidTask, i, id, task.Properties)
			}
			if _, ok := inputs[id]; ok {
				return fmt.Errorf("%w: method %d: property %d is both input and output",
					ErrInvalidTask, i, id)
			}
		}
	}
	return nil
}
