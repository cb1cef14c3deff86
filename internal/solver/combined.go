package solver

// Combined composes planners. Definite planners are tried before
// uncertain ones; within each group the configured order is kept.
type Combined struct {
	slaves []Solver
}

// NewCombined returns a planner that delegates to slaves in order.
func NewCombined(slaves ...Solver) *Combined {
	return &Combined{slaves: slaves}
}

// Default returns QuickPlan followed by Matching.
func Default() *Combined {
	return NewCombined(NewQuickPlan(), NewMatching())
}

func (c *Combined) Name() string { return "combined" }

// Slaves returns the configured planners.
func (c *Combined) Slaves() []Solver {
	return append([]Solver(nil), c.slaves...)
}

// Applicability is the strongest answer among the slaves.
func (c *Combined) Applicability(task Task) (Applicability, error) {
	result := NotApplicable
	for _, s := range c.slaves {
		app, err := s.Applicability(task)
		if err != nil {
			return NotApplicable, err
		}
		switch app {
		case Applicable:
			return Applicable, nil
		case MaybeApplicable:
			result = MaybeApplicable
		}
	}
	return result, nil
}

// TrySolve returns the first plan found by an Applicable slave, then by a
// MaybeApplicable one. The returned Solution names the slave that built it.
func (c *Combined) TrySolve(task Task) (Solution, bool, error) {
	var definite, maybe []Solver
	for _, s := range c.slaves {
		app, err := s.Applicability(task)
		if err != nil {
			return Solution{}, false, err
		}
		switch app {
		case Applicable:
			definite = append(definite, s)
		case MaybeApplicable:
			maybe = append(maybe, s)
		}
	}

	for _, group := range [][]Solver{definite, maybe} {
		for _, s := range group {
			sol, ok, err := s.TrySolve(task)
			if err != nil {
				return Solution{}, false, err
			}
			if ok {
				return sol, true, nil
			}
		}
	}
	return Solution{}, false, nil
}
