package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/fleetalloc/core/milp"
)

// relaxation builds standard-form LPs for one block.
type relaxation struct {
	cost  []float64
	rows  []row
	isInt []bool
	lower []float64 // model lower bounds, local order
	// occurs lists the model rows each variable appears in; cut rows are
	// not indexed.
	occurs [][]occurrence
	pure   []bool // rows over integer variables only
}

type occurrence struct {
	row  int
	coef float64
}

type row struct {
	terms []localTerm
	sense milp.Sense
	rhs   float64
}

type localTerm struct {
	k    int
	coef float64
}

func newRelaxation(m *milp.Model, blk block) *relaxation {
	local := make(map[int]int, len(blk.vars))
	cost := make([]float64, len(blk.vars))
	isInt := make([]bool, len(blk.vars))
	lower := make([]float64, len(blk.vars))
	for k, j := range blk.vars {
		v := m.Variables[j]
		local[j] = k
		cost[k] = v.Cost
		isInt[k] = v.Domain == milp.Integer
		lower[k] = v.Lower
	}
	rows := make([]row, 0, len(blk.cons))
	for _, ci := range blk.cons {
		c := m.Constraints[ci]
		r := row{sense: c.Sense, rhs: c.RHS, terms: make([]localTerm, len(c.Terms))}
		for i, t := range c.Terms {
			r.terms[i] = localTerm{k: local[t.Var], coef: t.Coef}
		}
		rows = append(rows, r)
	}
	r := &relaxation{cost: cost, rows: rows, isInt: isInt, lower: lower}
	r.occurs = make([][]occurrence, len(blk.vars))
	r.pure = make([]bool, len(rows))
	for i, rw := range rows {
		r.pure[i] = true
		for _, t := range rw.terms {
			r.occurs[t.k] = append(r.occurs[t.k], occurrence{row: i, coef: t.coef})
			r.pure[i] = r.pure[i] && isInt[t.k]
		}
	}
	return r
}

// feasTol is how far a presolved row or bound may be violated.
const feasTol = 1e-9

// solve minimises the block objective over lb <= x <= ub and the block's
// constraints. A presolve first substitutes fixed variables and turns rows
// left with a single variable into bounds; variables outside the remaining
// rows go straight to their cheapest bound. What is left becomes a standard
// form LP: lower bounds are shifted out (y = x - lb >= 0), finite upper bounds
// become rows, and every inequality row gets its own slack column so the
// matrix keeps full row rank.
func (r *relaxation) solve(lb, ub []float64, tol float64) (float64, []float64, lpStatus, error) {
	n := len(lb)
	lo := append([]float64(nil), lb...)
	hi := append([]float64(nil), ub...)
	for k := 0; k < n; k++ {
		if hi[k] < lo[k]-feasTol {
			return 0, nil, lpInfeasible, nil
		}
	}

	keep, ok := r.presolve(lo, hi)
	if !ok {
		return 0, nil, lpInfeasible, nil
	}

	col := make([]int, n)
	for k := range col {
		col[k] = -1
	}
	var cols []int
	for i, rw := range r.rows {
		if !keep[i] {
			continue
		}
		for _, t := range rw.terms {
			if lo[t.k] != hi[t.k] && col[t.k] < 0 {
				col[t.k] = len(cols)
				cols = append(cols, t.k)
			}
		}
	}

	x := make([]float64, n)
	var obj float64
	for k := 0; k < n; k++ {
		if col[k] >= 0 {
			continue
		}
		v, bounded := cheapest(r.cost[k], lo[k], hi[k])
		if !bounded {
			return 0, nil, lpUnbounded, nil
		}
		x[k] = v
		obj += r.cost[k] * v
	}
	if len(cols) == 0 {
		return obj, x, lpOptimal, nil
	}

	var rows []row
	for i, rw := range r.rows {
		if !keep[i] {
			continue
		}
		shifted := row{sense: rw.sense, rhs: rw.rhs}
		for _, t := range rw.terms {
			if c := col[t.k]; c >= 0 {
				shifted.terms = append(shifted.terms, localTerm{k: c, coef: t.coef})
				shifted.rhs -= t.coef * lo[t.k]
			} else {
				shifted.rhs -= t.coef * x[t.k]
			}
		}
		rows = append(rows, shifted)
	}
	for c, k := range cols {
		if math.IsInf(lo[k], -1) {
			return 0, nil, lpInfeasible, fmt.Errorf("variable %d has no lower bound", k)
		}
		if !math.IsInf(hi[k], 1) {
			rows = append(rows, row{terms: []localTerm{{k: c, coef: 1}}, sense: milp.LessEq, rhs: hi[k] - lo[k]})
		}
	}

	slacks := 0
	for _, rw := range rows {
		if rw.sense != milp.Equal {
			slacks++
		}
	}
	width := len(cols) + slacks
	if width < len(rows) {
		return 0, nil, lpInfeasible, fmt.Errorf("relaxation has %d rows but only %d columns", len(rows), width)
	}

	A := mat.NewDense(len(rows), width, nil)
	b := make([]float64, len(rows))
	c := make([]float64, width)
	for ci, k := range cols {
		c[ci] = r.cost[k]
	}
	slack := len(cols)
	for i, rw := range rows {
		sign := 1.0
		if rw.rhs < 0 {
			sign = -1
		}
		for _, t := range rw.terms {
			A.Set(i, t.k, A.At(i, t.k)+sign*t.coef)
		}
		switch rw.sense {
		case milp.LessEq:
			A.Set(i, slack, sign)
			slack++
		case milp.GreaterEq:
			A.Set(i, slack, -sign)
			slack++
		}
		b[i] = sign * rw.rhs
	}

	_, y, err := lpSimplex(c, A, b, tol, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, lpInfeasible, nil
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, lpUnbounded, nil
	case err != nil:
		return 0, nil, lpInfeasible, fmt.Errorf("simplex: %w", err)
	}

	for ci, k := range cols {
		x[k] = lo[k] + y[ci]
		obj += r.cost[k] * x[k]
	}
	return obj, x, lpOptimal, nil
}

// presolve tightens lo and hi in place from rows that have at most one
// variable left once fixed variables (lo == hi) are substituted, and reports
// which rows still need the LP. It returns false when a row or bound cannot
// hold.
func (r *relaxation) presolve(lo, hi []float64) ([]bool, bool) {
	keep := make([]bool, len(r.rows))
	for pass := 0; pass < 8; pass++ {
		changed := false
		for i, rw := range r.rows {
			rhs := rw.rhs
			var free []localTerm
			for _, t := range rw.terms {
				if lo[t.k] == hi[t.k] {
					rhs -= t.coef * lo[t.k]
				} else {
					free = append(free, t)
				}
			}
			keep[i] = len(free) > 1
			switch len(free) {
			case 0:
				if !satisfied(0, rw.sense, rhs, feasTol*math.Max(1, math.Abs(rw.rhs))) {
					return nil, false
				}
			case 1:
				t := free[0]
				v := rhs / t.coef
				upper := (rw.sense == milp.LessEq) == (t.coef > 0)
				if (rw.sense == milp.Equal || upper) && v < hi[t.k] {
					hi[t.k], changed = v, true
				}
				if (rw.sense == milp.Equal || !upper) && v > lo[t.k] {
					lo[t.k], changed = v, true
				}
				if hi[t.k] < lo[t.k]-feasTol*math.Max(1, math.Abs(v)) {
					return nil, false
				}
				if hi[t.k] <= lo[t.k] {
					hi[t.k] = lo[t.k]
				}
			}
		}
		if !changed {
			break
		}
	}
	return keep, true
}

// cheapest returns the bound of a variable outside every row that minimises
// its cost, and false when that bound is infinite.
func cheapest(cost, lo, hi float64) (float64, bool) {
	switch {
	case cost > 0:
		return lo, !math.IsInf(lo, -1)
	case cost < 0:
		return hi, !math.IsInf(hi, 1)
	case !math.IsInf(lo, -1):
		return lo, true
	case !math.IsInf(hi, 1):
		return hi, true
	default:
		return 0, true
	}
}
