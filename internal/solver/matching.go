package solver

import (
	"sort"
)

// Matching reduces planning to maximum bipartite matching between
// constraints and the properties their methods write, then rejects
// matchings that cannot be evaluated without a cycle.
type Matching struct{}

// NewMatching returns a maximum-matching planner.
func NewMatching() *Matching {
	return &Matching{}
}

func (s *Matching) Name() string { return "matching" }

// Applicability is NotApplicable when a method writes more than one
// property and MaybeApplicable otherwise.
func (s *Matching) Applicability(task Task) (Applicability, error) {
	if err := Validate(task); err != nil {
		return NotApplicable, err
	}
	for _, m := range task.Methods {
		if len(m.Outputs) > 1 {
			return NotApplicable, nil
		}
	}
	return MaybeApplicable, nil
}

// TrySolve matches at most one method per constraint and per property,
// checks the matched methods for cycles and orders them topologically.
func (s *Matching) TrySolve(task Task) (Solution, bool, error) {
	app, err := s.Applicability(task)
	if err != nil {
		return Solution{}, false, err
	}
	if app == NotApplicable {
		return Solution{}, false, nil
	}

	// Degenerate methods get a private right vertex of their own, so a
	// constraint still matches at most one method.
	bg := bipartite{left: task.Constraints, right: task.Properties}
	bg.edges = make([]edge, 0, len(task.Methods))
	for _, m := range task.Methods {
		if len(m.Outputs) == 0 {
			bg.edges = append(bg.edges, edge{from: m.Constraint, to: bg.right})
			bg.right++
			continue
		}
		bg.edges = append(bg.edges, edge{from: m.Constraint, to: m.Outputs[0]})
	}
	matched := bg.maxMatching()

	// Vertices: constraints first, then properties.
	dg := digraph{vertices: task.Constraints + task.Properties}
	for _, id := range matched {
		m := task.Methods[id]
		for _, in := range m.Inputs {
			dg.edges = append(dg.edges, edge{from: task.Constraints + in, to: m.Constraint})
		}
		for _, out := range m.Outputs {
			dg.edges = append(dg.edges, edge{from: m.Constraint, to: task.Constraints + out})
		}
	}
	rank, ok := dg.topoRank()
	if !ok {
		return Solution{}, false, nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return rank[task.Methods[matched[i]].Constraint] < rank[task.Methods[matched[j]].Constraint]
	})
	return Solution{Methods: matched, Solver: s.Name()}, true, nil
}

type edge struct {
	from, to int
}

type bipartite struct {
	left, right int
	edges       []edge
}

// maxMatching runs Kuhn's augmenting-path search, one attempt per left
// vertex in ascending order. It returns the chosen edge indices ordered
// by right vertex.
func (b bipartite) maxMatching() []int {
	incident := make([][]int, b.left)
	for id, e := range b.edges {
		incident[e.from] = append(incident[e.from], id)
	}

	chosen := make([]int, b.right)
	for i := range chosen {
		chosen[i] = -1
	}
	visited := make([]bool, b.left)

	var augment func(u int) bool
	augment = func(u int) bool {
		if visited[u] {
			return false
		}
		visited[u] = true
		for _, id := range incident[u] {
			v := b.edges[id].to
			if chosen[v] == -1 || augment(b.edges[chosen[v]].from) {
				chosen[v] = id
				return true
			}
		}
		return false
	}

	for u := 0; u < b.left; u++ {
		clear(visited)
		augment(u)
	}

	result := make([]int, 0, b.left)
	for _, id := range chosen {
		if id != -1 {
			result = append(result, id)
		}
	}
	return result
}

type digraph struct {
	vertices int
	edges    []edge
}

// topoRank returns the position of every vertex in a topological order,
// or false when the graph has a cycle.
func (g digraph) topoRank() ([]int, bool) {
	adj := make([][]int, g.vertices)
	for _, e := range g.edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]uint8, g.vertices)
	postorder := make([]int, 0, g.vertices)

	var visit func(u int) bool
	visit = func(u int) bool {
		switch color[u] {
		case black:
			return true
		case grey:
			return false
		}
		color[u] = grey
		for _, v := range adj[u] {
			if !visit(v) {
				return false
			}
		}
		color[u] = black
		postorder = append(postorder, u)
		return true
	}

	for u := 0; u < g.vertices; u++ {
		if !visit(u) {
			return nil, false
		}
	}

	rank := make([]int, g.vertices)
	for i, u := range postorder {
		rank[u] = g.vertices - i - 1
	}
	return rank, true
}
