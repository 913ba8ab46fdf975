package solver

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/kilianp07/fleetalloc/core/factory"
	"github.com/kilianp07/fleetalloc/core/logger"
	"github.com/kilianp07/fleetalloc/core/milp"
)

func newSolver() *BranchAndBound {
	return NewBranchAndBound(Config{}, logger.NopLogger{})
}

func inf() float64 { return math.Inf(1) }

// min -x - y  s.t. 2x + 2y <= 3, x,y integer: LP optimum is -1.5, MILP -1.
func knapsack() *milp.Model {
	m := milp.NewModel("knapsack")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer, Cost: -1})
	y := m.AddVariable(milp.Variable{Name: "y", Upper: inf(), Domain: milp.Integer, Cost: -1})
	_, _ = m.AddConstraint(milp.Constraint{Name: "cap", Terms: []milp.Term{{Var: x, Coef: 2}, {Var: y, Coef: 2}}, Sense: milp.LessEq, RHS: 3})
	return m
}

func TestBranchAndBound_Integer(t *testing.T) {
	sol, err := newSolver().Solve(context.Background(), knapsack(), milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, -1, sol.Objective, 1e-9)
	x, _ := sol.Value(0)
	y, _ := sol.Value(1)
	assert.InDelta(t, 1, x+y, 1e-9)
	assert.Equal(t, math.Round(x), x)
}

func TestBranchAndBound_Continuous(t *testing.T) {
	m := knapsack()
	for i := range m.Variables {
		m.Variables[i].Domain = milp.Continuous
	}
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, -1.5, sol.Objective, 1e-7)
}

func TestBranchAndBound_CoverWithSlack(t *testing.T) {
	// min u  s.t. 2x + u >= 7, x <= 2 (integer): x = 2, u = 3
	m := milp.NewModel("cover")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer})
	u := m.AddVariable(milp.Variable{Name: "u", Upper: inf(), Cost: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}, {Var: u, Coef: 1}}, Sense: milp.GreaterEq, RHS: 7})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 1}}, Sense: milp.LessEq, RHS: 2})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, 3, sol.Objective, 1e-7)
	xv, _ := sol.Value(x)
	assert.InDelta(t, 2, xv, 1e-9)
}

func TestBranchAndBound_Infeasible(t *testing.T) {
	m := milp.NewModel("infeasible")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Cost: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 1}}, Sense: milp.GreaterEq, RHS: 2})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 1}}, Sense: milp.LessEq, RHS: 1})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusInfeasible, sol.Status)
	assert.False(t, sol.HasValues())
}

func TestBranchAndBound_IntegerInfeasible(t *testing.T) {
	// 2x = 1 has no integer solution although the relaxation is feasible
	m := milp.NewModel("parity")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer, Cost: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}}, Sense: milp.GreaterEq, RHS: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}}, Sense: milp.LessEq, RHS: 1})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusInfeasible, sol.Status)
}

func TestBranchAndBound_Unbounded(t *testing.T) {
	m := milp.NewModel("unbounded")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Cost: -1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 1}}, Sense: milp.GreaterEq, RHS: 1})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusUnbounded, sol.Status)
}

func TestBranchAndBound_FreeVariables(t *testing.T) {
	m := milp.NewModel("free")
	m.AddVariable(milp.Variable{Name: "a", Lower: 2, Upper: inf(), Cost: 1})
	m.AddVariable(milp.Variable{Name: "b", Lower: 0, Upper: 4.5, Domain: milp.Integer, Cost: -1})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.Equal(t, []float64{2, 4}, sol.Values)
	assert.InDelta(t, -2, sol.Objective, 1e-12)

	m.AddVariable(milp.Variable{Name: "c", Upper: inf(), Cost: -1})
	sol, err = newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusUnbounded, sol.Status)
}

func TestBranchAndBound_EmptyConstraint(t *testing.T) {
	m := milp.NewModel("empty")
	m.AddVariable(milp.Variable{Name: "a", Upper: inf()})
	_, _ = m.AddConstraint(milp.Constraint{Name: "never", Sense: milp.GreaterEq, RHS: 1})
	sol, err := newSolver().Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusInfeasible, sol.Status)
}

func TestBranchAndBound_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sol, err := newSolver().Solve(ctx, knapsack(), milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusTimeLimit, sol.Status)
	_, ok := sol.Value(0)
	assert.False(t, ok, "no incumbent expected")
}

func TestBranchAndBound_NodeBudget(t *testing.T) {
	s := NewBranchAndBound(Config{MaxNodes: 1}, nil)
	sol, err := s.Solve(context.Background(), knapsack(), milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusTimeLimit, sol.Status)
}

func TestBranchAndBound_SimplexFailure(t *testing.T) {
	old := lpSimplex
	lpSimplex = func([]float64, mat.Matrix, []float64, float64, []int) (float64, []float64, error) {
		return 0, nil, errors.New("boom")
	}
	defer func() { lpSimplex = old }()

	_, err := newSolver().Solve(context.Background(), knapsack(), milp.Options{})
	assert.ErrorContains(t, err, "boom")
}

func TestBranchAndBound_InvalidModel(t *testing.T) {
	m := milp.NewModel("bad")
	m.AddVariable(milp.Variable{Name: "x", Lower: math.NaN()})
	_, err := newSolver().Solve(context.Background(), m, milp.Options{})
	assert.Error(t, err)
}

func TestDecompose_Blocks(t *testing.T) {
	m := milp.NewModel("blocks")
	a := m.AddVariable(milp.Variable{Name: "a", Upper: inf()})
	b := m.AddVariable(milp.Variable{Name: "b", Upper: inf()})
	c := m.AddVariable(milp.Variable{Name: "c", Upper: inf()})
	d := m.AddVariable(milp.Variable{Name: "d", Upper: inf()})
	m.AddVariable(milp.Variable{Name: "free", Upper: inf()})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: a, Coef: 1}, {Var: c, Coef: 1}}, Sense: milp.LessEq, RHS: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: b, Coef: 1}}, Sense: milp.LessEq, RHS: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: d, Coef: 1}, {Var: b, Coef: 1}}, Sense: milp.LessEq, RHS: 1})
	_, _ = m.AddConstraint(milp.Constraint{Sense: milp.LessEq, RHS: 1})

	dec := decompose(m)
	require.Len(t, dec.blocks, 2)
	assert.Equal(t, []int{a, c}, dec.blocks[0].vars)
	assert.Equal(t, []int{0}, dec.blocks[0].cons)
	assert.Equal(t, []int{b, d}, dec.blocks[1].vars)
	assert.Equal(t, []int{1, 2}, dec.blocks[1].cons)
	assert.Equal(t, []int{4}, dec.free)
	assert.Equal(t, []int{3}, dec.empty)
}

func TestRegistry_Gonum(t *testing.T) {
	s, err := milp.NewSolver(factory.ModuleConfig{Conf: map[string]any{"max_nodes": 10}})
	require.NoError(t, err)
	bb, ok := s.(*BranchAndBound)
	require.True(t, ok)
	assert.Equal(t, 10, bb.cfg.MaxNodes)
	assert.Equal(t, 1e-6, bb.cfg.Gap)
}

// twoCovers has two independent blocks: min u1 + u2 with 2x1 + u1 >= 7 and
// 2x2 + u2 >= 5.
func twoCovers() *milp.Model {
	m := milp.NewModel("two")
	for _, d := range []float64{7, 5} {
		x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer})
		u := m.AddVariable(milp.Variable{Name: "u", Upper: inf(), Cost: 1})
		_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}, {Var: u, Coef: 1}}, Sense: milp.GreaterEq, RHS: d})
		_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 1}}, Sense: milp.LessEq, RHS: 2})
	}
	return m
}

func TestBranchAndBound_BlockWithoutIncumbentDropsValues(t *testing.T) {
	old := lpSimplex
	var calls atomic.Int32
	lpSimplex = func(c []float64, A mat.Matrix, b []float64, tol float64, basic []int) (float64, []float64, error) {
		if calls.Add(1) == 1 {
			time.Sleep(60 * time.Millisecond)
		}
		return old(c, A, b, tol, basic)
	}
	defer func() { lpSimplex = old }()

	sol, err := newSolver().Solve(context.Background(), twoCovers(), milp.Options{TimeLimit: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusTimeLimit, sol.Status)
	assert.False(t, sol.HasValues(), "a block without incumbent must not yield partial values")
}

func TestBranchAndBound_IndependentBlocks(t *testing.T) {
	sol, err := newSolver().Solve(context.Background(), twoCovers(), milp.Options{TimeLimit: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	// 7 - 2*2 + 5 - 2*2
	assert.InDelta(t, 4, sol.Objective, 1e-7)
	for i := range sol.Values {
		_, ok := sol.Value(i)
		assert.True(t, ok)
	}
}

func TestRelaxation_RoundingCut(t *testing.T) {
	m := milp.NewModel("cut")
	x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer})
	u := m.AddVariable(milp.Variable{Name: "u", Upper: inf(), Cost: 1})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}, {Var: u, Coef: 1}}, Sense: milp.GreaterEq, RHS: 7})
	_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}, {Var: u, Coef: 1}}, Sense: milp.GreaterEq, RHS: 6})

	rel := newRelaxation(m, decompose(m).blocks[0])
	require.Equal(t, 1, rel.addRoundingCuts(1e-6), "integral d/a yields no cut")
	cut := rel.rows[2]
	assert.Equal(t, milp.GreaterEq, cut.sense)
	assert.InDelta(t, 4, cut.rhs, 1e-12)
	assert.Equal(t, []localTerm{{k: u, coef: 1}, {k: x, coef: 1}}, cut.terms)

	// u >= 4 - x is tight at x = 3 and x = 4 and cuts off x = 3.5, u = 0
	obj, sol, st, err := rel.solve([]float64{0, 0}, []float64{3.5, inf()}, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, lpOptimal, st)
	assert.InDelta(t, 0.5, obj, 1e-9)
	assert.InDelta(t, 0.5, sol[u], 1e-9)
}

func TestRelaxation_RoundingHeuristic(t *testing.T) {
	m := milp.NewModel("heur")
	var terms []milp.Term
	for i := 0; i < 3; i++ {
		j := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer, Cost: -1})
		terms = append(terms, milp.Term{Var: j, Coef: 1})
	}
	_, _ = m.AddConstraint(milp.Constraint{Terms: terms, Sense: milp.LessEq, RHS: 2})

	rel := newRelaxation(m, decompose(m).blocks[0])
	lb, ub := []float64{0, 0, 0}, []float64{inf(), inf(), inf()}
	obj, x := rel.roundingHeuristic(lb, ub, []float64{0.7, 0.9, 0.4}, []int{0, 1, 2}, Config{IntTolerance: 1e-6, Tolerance: 1e-9})
	require.NotNil(t, x)
	assert.Equal(t, []float64{1, 1, 0}, x)
	assert.InDelta(t, -2, obj, 1e-9)
}

func TestBranchAndBound_StopsAtRootBound(t *testing.T) {
	// min sum u over ten zones sharing 12 vehicles: the cuts make the root
	// bound exact and rounding reaches it
	m := milp.NewModel("hour")
	var capTerms []milp.Term
	for i := 0; i < 10; i++ {
		x := m.AddVariable(milp.Variable{Name: "x", Upper: inf(), Domain: milp.Integer})
		u := m.AddVariable(milp.Variable{Name: "u", Upper: inf(), Cost: 1})
		_, _ = m.AddConstraint(milp.Constraint{Terms: []milp.Term{{Var: x, Coef: 2}, {Var: u, Coef: 1}}, Sense: milp.GreaterEq, RHS: 1.5 + float64(i%3)})
		capTerms = append(capTerms, milp.Term{Var: x, Coef: 1})
	}
	_, _ = m.AddConstraint(milp.Constraint{Terms: capTerms, Sense: milp.LessEq, RHS: 12})

	s := NewBranchAndBound(Config{MaxNodes: 1}, nil)
	sol, err := s.Solve(context.Background(), m, milp.Options{})
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	// demands 1.5, 2.5, 3.5 repeat: six whole vehicles go to the 2.5 and
	// 3.5 zones, the other six cover six of the seven 1.5 remainders, which
	// leaves one 1.5 and three 0.5 unmet
	assert.InDelta(t, 3.0, sol.Objective, 1e-7)
}

func TestRelaxation_PresolveWithoutSimplex(t *testing.T) {
	old := lpSimplex
	lpSimplex = func([]float64, mat.Matrix, []float64, float64, []int) (float64, []float64, error) {
		return 0, nil, errors.New("simplex called")
	}
	defer func() { lpSimplex = old }()

	rel := newRelaxation(twoCovers(), decompose(twoCovers()).blocks[0])
	// x fixed at 2 leaves 2*2 + u >= 7 as a bound on u
	obj, x, st, err := rel.solve([]float64{2, 0}, []float64{2, inf()}, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, lpOptimal, st)
	assert.InDelta(t, 3, obj, 1e-9)
	assert.InDelta(t, 3, x[1], 1e-9)

	// x fixed at 3 breaks x <= 2
	_, _, st, err = rel.solve([]float64{3, 0}, []float64{3, inf()}, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, lpInfeasible, st)
}
