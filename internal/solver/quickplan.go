package solver

import "slices"

// QuickPlan is a local-propagation planner. It handles tasks in which
// every method of a constraint covers the same property set, treating
// each constraint as one hyper-edge regardless of the method chosen.
type QuickPlan struct{}

// NewQuickPlan returns a local-propagation planner.
func NewQuickPlan() *QuickPlan {
	return &QuickPlan{}
}

func (q *QuickPlan) Name() string { return "quickplan" }

// Applicability reports Applicable when all methods of each constraint
// share one domain (inputs plus outputs) and NotApplicable otherwise.
func (q *QuickPlan) Applicability(task Task) (Applicability, error) {
	if err := Validate(task); err != nil {
		return NotApplicable, err
	}
	domains := make([]map[int]struct{}, task.Constraints)
	for _, m := range task.Methods {
		d := methodDomain(m)
		if domains[m.Constraint] == nil {
			domains[m.Constraint] = d
			continue
		}
		if !sameSet(domains[m.Constraint], d) {
			return NotApplicable, nil
		}
	}
	return Applicable, nil
}

// TrySolve sieves the constraint graph down to a fixed point, then grows
// a resolvable sub-graph constraint by constraint in ascending id order.
// Constraints that cannot join the sub-graph are left unsatisfied.
func (q *QuickPlan) TrySolve(task Task) (Solution, bool, error) {
	app, err := q.Applicability(task)
	if err != nil {
		return Solution{}, false, err
	}
	if app == NotApplicable {
		return Solution{}, false, nil
	}

	g := newConstraintGraph(task)
	for c, methods := range g.layout.byConstraint {
		if len(methods) > 0 {
			g.addConstraint(c)
		}
	}

	plan := g.sieveDown()
	if g.live > 0 {
		plan = append(plan, g.sieveUp()...)
	}
	slices.Reverse(plan)

	return Solution{Methods: plan, Solver: q.Name()}, true, nil
}

// constraintGraph is the mutable hyper-graph QuickPlan sieves. The
// immutable task layout is shared between clones; only the liveness and
// degree slices are copied.
type constraintGraph struct {
	layout *graphLayout

	constraintLive []bool
	methodLive     []bool
	propertyLive   []bool
	degree         []int // live constraints touching a property
	outDegree      []int // live outputs of a method
	live           int   // live constraints
}

type graphLayout struct {
	domains      [][]int // per constraint
	outputs      [][]int // per method, deduplicated
	byConstraint [][]int // method indices per constraint
	producers    [][]int // method indices per output property
	owner        []int   // constraint per method
}

func newConstraintGraph(task Task) *constraintGraph {
	layout := &graphLayout{
		domains:      make([][]int, task.Constraints),
		outputs:      make([][]int, len(task.Methods)),
		byConstraint: make([][]int, task.Constraints),
		producers:    make([][]int, task.Properties),
		owner:        make([]int, len(task.Methods)),
	}
	for i, m := range task.Methods {
		layout.owner[i] = m.Constraint
		layout.byConstraint[m.Constraint] = append(layout.byConstraint[m.Constraint], i)
		layout.outputs[i] = sortedUnique(m.Outputs)
		for _, p := range layout.outputs[i] {
			layout.producers[p] = append(layout.producers[p], i)
		}
		if layout.domains[m.Constraint] == nil {
			layout.domains[m.Constraint] = sortedUnique(append(slices.Clone(m.Inputs), m.Outputs...))
		}
	}

	return emptyGraph(layout)
}

func emptyGraph(layout *graphLayout) *constraintGraph {
	return &constraintGraph{
		layout:         layout,
		constraintLive: make([]bool, len(layout.domains)),
		methodLive:     make([]bool, len(layout.outputs)),
		propertyLive:   make([]bool, len(layout.producers)),
		degree:         make([]int, len(layout.producers)),
		outDegree:      make([]int, len(layout.outputs)),
	}
}

func (g *constraintGraph) clone() *constraintGraph {
	return &constraintGraph{
		layout:         g.layout,
		constraintLive: slices.Clone(g.constraintLive),
		methodLive:     slices.Clone(g.methodLive),
		propertyLive:   slices.Clone(g.propertyLive),
		degree:         slices.Clone(g.degree),
		outDegree:      slices.Clone(g.outDegree),
		live:           g.live,
	}
}

func (g *constraintGraph) addConstraint(c int) {
	if g.constraintLive[c] {
		return
	}
	g.constraintLive[c] = true
	g.live++
	for _, p := range g.layout.domains[c] {
		g.propertyLive[p] = true
		g.degree[p]++
	}
	for _, m := range g.layout.byConstraint[c] {
		g.methodLive[m] = true
		g.outDegree[m] = 0
		for _, p := range g.layout.outputs[m] {
			if g.propertyLive[p] {
				g.outDegree[m]++
			}
		}
	}
}

func (g *constraintGraph) removeConstraint(c int) {
	g.constraintLive[c] = false
	g.live--
	for _, m := range g.layout.byConstraint[c] {
		g.methodLive[m] = false
	}
	for _, p := range g.layout.domains[c] {
		if g.propertyLive[p] {
			g.degree[p]--
		}
	}
}

func (g *constraintGraph) removeProperty(p int) {
	g.propertyLive[p] = false
	for _, m := range g.layout.producers[p] {
		if g.methodLive[m] {
			g.outDegree[m]--
		}
	}
}

// freeProperty returns the lowest live property touched by exactly one
// live constraint, or -1.
func (g *constraintGraph) freeProperty() int {
	for p, live := range g.propertyLive {
		if live && g.degree[p] == 1 {
			return p
		}
	}
	return -1
}

// readyMethod returns the lowest live method with no live outputs, or -1.
func (g *constraintGraph) readyMethod() int {
	for m, live := range g.methodLive {
		if live && g.outDegree[m] == 0 {
			return m
		}
	}
	return -1
}

// sieveDown removes free properties and satisfiable constraints until
// neither rule applies. Accepted methods are returned in removal order.
func (g *constraintGraph) sieveDown() []int {
	var accepted []int
	for g.live > 0 {
		if p := g.freeProperty(); p >= 0 {
			g.removeProperty(p)
			continue
		}
		if m := g.readyMethod(); m >= 0 {
			accepted = append(accepted, m)
			g.removeConstraint(g.layout.owner[m])
			continue
		}
		break
	}
	return accepted
}

// sieveUp offers the remaining constraints, in ascending id order, to a
// growing sub-graph and keeps each one whose addition still sieves down
// completely.
func (g *constraintGraph) sieveUp() []int {
	pre := emptyGraph(g.layout)

	var accepted []int
	for c, live := range g.constraintLive {
		if !live {
			continue
		}
		candidate := pre.clone()
		candidate.addConstraint(c)

		post := candidate.clone()
		plan := post.sieveDown()
		if post.live == 0 {
			accepted = plan
			pre = candidate
		}
	}
	return accepted
}

func methodDomain(m Method) map[int]struct{} {
	d := make(map[int]struct{}, len(m.Inputs)+len(m.Outputs))
	for _, p := range m.Inputs {
		d[p] = struct{}{}
	}
	for _, p := range m.Outputs {
		d[p] = struct{}{}
	}
	return d
}

func sameSet(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedUnique(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
