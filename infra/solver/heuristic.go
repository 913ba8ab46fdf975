package solver

import (
	"math"
	"sort"

	"github.com/kilianp07/fleetalloc/core/milp"
)

// addRoundingCuts appends a mixed-integer rounding cut for every row with a
// single integer variable. For a*x + sum(c*y) >= d with x integer, y >= 0
// continuous and d/a = k + f (0 < f < 1), integer x implies
//
//	sum(c*y : c > 0) + a*f*x >= a*f*(k+1)
//
// which cuts off the fractional vertices where a*x alone covers d. It
// returns the number of cuts added.
func (r *relaxation) addRoundingCuts(tol float64) int {
	n := len(r.rows)
	for i := 0; i < n; i++ {
		if cut, ok := r.roundingCut(r.rows[i], tol); ok {
			r.rows = append(r.rows, cut)
		}
	}
	return len(r.rows) - n
}

func (r *relaxation) roundingCut(rw row, tol float64) (row, bool) {
	sign := 1.0
	if rw.sense == milp.LessEq {
		sign = -1
	}
	var (
		intK = -1
		a    float64
		d    = sign * rw.rhs
		cont []localTerm
	)
	for _, t := range rw.terms {
		c := sign * t.coef
		if r.isInt[t.k] {
			if intK >= 0 {
				return row{}, false
			}
			intK, a = t.k, c
			continue
		}
		l := r.lower[t.k]
		if math.IsInf(l, 0) || math.IsNaN(l) {
			return row{}, false
		}
		d -= c * l
		if c > 0 {
			cont = append(cont, localTerm{k: t.k, coef: c})
		}
	}
	if intK < 0 || a <= 0 {
		return row{}, false
	}
	beta := d / a
	f := beta - math.Floor(beta)
	if f < tol || f > 1-tol {
		return row{}, false
	}
	cut := row{sense: milp.GreaterEq, rhs: a * f * math.Ceil(beta)}
	for _, t := range cont {
		cut.terms = append(cut.terms, t)
		cut.rhs += t.coef * r.lower[t.k]
	}
	cut.terms = append(cut.terms, localTerm{k: intK, coef: a * f})
	return cut, true
}

// roundingHeuristic turns the relaxation x into an incumbent candidate:
// integer variables are floored, then raised one by one, largest fractional
// part first, while no all-integer row would break. The continuous variables
// are then re-optimised with the integers fixed. It returns nil when the
// rounded point is infeasible.
func (r *relaxation) roundingHeuristic(lb, ub, x []float64, ints []int, cfg Config) (float64, []float64) {
	cand := make(map[int]float64, len(ints))
	var frac []int
	for _, k := range ints {
		v := math.Floor(x[k] + cfg.IntTolerance)
		cand[k] = math.Min(math.Max(v, lb[k]), ub[k])
		if x[k]-cand[k] > cfg.IntTolerance {
			frac = append(frac, k)
		}
	}
	sort.SliceStable(frac, func(i, j int) bool {
		return x[frac[i]]-cand[frac[i]] > x[frac[j]]-cand[frac[j]]
	})

	act := make([]float64, len(r.pure))
	for i, rw := range r.rows[:len(r.pure)] {
		if !r.pure[i] {
			continue
		}
		for _, t := range rw.terms {
			act[i] += t.coef * cand[t.k]
		}
	}
	for _, k := range frac {
		if cand[k]+1 > ub[k] || !r.canRaise(k, act) {
			continue
		}
		cand[k]++
		for _, o := range r.occurs[k] {
			act[o.row] += o.coef
		}
	}

	flb := append([]float64(nil), lb...)
	fub := append([]float64(nil), ub...)
	for k, v := range cand {
		flb[k], fub[k] = v, v
	}
	obj, y, st, err := r.solve(flb, fub, cfg.Tolerance)
	if err != nil || st != lpOptimal {
		return 0, nil
	}
	for k, v := range cand {
		y[k] = v
	}
	return obj, y
}

// canRaise reports whether adding one to variable k keeps every all-integer
// row it appears in satisfied.
func (r *relaxation) canRaise(k int, act []float64) bool {
	for _, o := range r.occurs[k] {
		if !r.pure[o.row] {
			continue
		}
		rw := r.rows[o.row]
		next := act[o.row] + o.coef
		switch rw.sense {
		case milp.LessEq:
			if o.coef > 0 && next > rw.rhs+1e-9 {
				return false
			}
		case milp.GreaterEq:
			if o.coef < 0 && next < rw.rhs-1e-9 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
