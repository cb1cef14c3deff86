package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchingApplicability(t *testing.T) {
	m := NewMatching()

	app, err := m.Applicability(Task{
		Properties:  3,
		Constraints: 1,
		Methods:     []Method{{Constraint: 0, Inputs: []int{0}, Outputs: []int{1, 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, app)

	for _, task := range []Task{
		simpleMatchingTask(),
		{Properties: 2, Constraints: 1, Methods: []Method{{Constraint: 0, Inputs: []int{0, 1}}}},
	} {
		app, err := m.Applicability(task)
		require.NoError(t, err)
		assert.Equal(t, MaybeApplicable, app)
	}
}

func TestMatchingNoSolution(t *testing.T) {
	tests := map[string]Task{
		"multi-output method": {
			Properties:  3,
			Constraints: 1,
			Methods:     []Method{{Constraint: 0, Inputs: []int{0}, Outputs: []int{1, 2}}},
		},
		"cycle": cyclicTask(),
		"two constraints feeding each other": {
			Properties:  4,
			Constraints: 2,
			Methods: []Method{
				{Constraint: 0, Inputs: []int{2, 3}, Outputs: []int{0}},
				{Constraint: 1, Inputs: []int{0, 3}, Outputs: []int{2}},
			},
		},
	}

	for name, task := range tests {
		t.Run(name, func(t *testing.T) {
			sol, ok, err := NewMatching().TrySolve(task)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, sol.Methods)
		})
	}
}

func TestMatchingSimple(t *testing.T) {
	task := simpleMatchingTask()

	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{1, 2}, sol.Methods)
	assert.Equal(t, "matching", sol.Solver)
	requireProducersFirst(t, task, sol)
}

func TestMatchingHard(t *testing.T) {
	task := hardTask()

	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{0, 1, 3, 7}, sol.Methods)
	requireProducersFirst(t, task, sol)
	requireOnePerConstraint(t, task, sol)
}

func TestMatchingRightOrder(t *testing.T) {
	task := chainTask()

	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{2, 1, 4, 0, 3}, sol.Methods)
}

func TestMatchingCycleWithAcyclicAlternative(t *testing.T) {
	// Constraint 0 offers a cyclic method and an acyclic one. The matching
	// stage picks its first method, the cycle check rejects the result.
	task := Task{
		Properties:  4,
		Constraints: 2,
		Methods: []Method{
			{Constraint: 0, Inputs: []int{2, 3}, Outputs: []int{0}},
			{Constraint: 0, Inputs: []int{3}, Outputs: []int{1}},
			{Constraint: 1, Inputs: []int{0, 3}, Outputs: []int{2}},
		},
	}

	_, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	assert.False(t, ok)

	// Once the acyclic method comes first it is matched and accepted.
	task.Methods[0], task.Methods[1] = task.Methods[1], task.Methods[0]
	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{0, 2}, sol.Methods)
	requireProducersFirst(t, task, sol)
}

func TestMatchingDegenerateMethods(t *testing.T) {
	// A constraint with two degenerate methods is planned once.
	task := Task{
		Properties:  2,
		Constraints: 2,
		Methods: []Method{
			{Constraint: 0, Inputs: []int{0}},
			{Constraint: 0, Inputs: []int{1}},
			{Constraint: 1, Outputs: []int{0}},
		},
	}

	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sol.Methods, 2)
	assert.Equal(t, []int{2, 0}, sol.Methods)
	requireOnePerConstraint(t, task, sol)
}

func TestMatchingSizeIsMaximum(t *testing.T) {
	// Constraint 0 grabs property 0 first; the augmenting path moves it to
	// property 1 so constraint 1 is also matched.
	task := Task{
		Properties:  3,
		Constraints: 2,
		Methods: []Method{
			{Constraint: 0, Inputs: []int{2}, Outputs: []int{0}},
			{Constraint: 0, Inputs: []int{2}, Outputs: []int{1}},
			{Constraint: 1, Inputs: []int{2}, Outputs: []int{0}},
		},
	}

	sol, ok, err := NewMatching().TrySolve(task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{1, 2}, sol.Methods)
}

func TestTopoRank(t *testing.T) {
	g := digraph{vertices: 3, edges: []edge{{from: 2, to: 1}, {from: 1, to: 0}}}
	rank, ok := g.topoRank()
	require.True(t, ok)
	assert.Less(t, rank[2], rank[1])
	assert.Less(t, rank[1], rank[0])

	g.edges = append(g.edges, edge{from: 0, to: 2})
	_, ok = g.topoRank()
	assert.False(t, ok)
}
