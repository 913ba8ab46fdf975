// Package solver provides the MILP solving capability behind milp.Solver. The
// BranchAndBound solver runs gonum's simplex on LP relaxations strengthened
// with rounding cuts, looks for incumbents with a rounding heuristic and
// branches on fractional integer variables.
package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/fleetalloc/core/logger"
	"github.com/kilianp07/fleetalloc/core/milp"
)

// Config tunes the branch-and-bound search.
type Config struct {
	// Tolerance is passed to lp.Simplex as the reduced-cost tolerance.
	Tolerance float64 `json:"tolerance"`
	// IntTolerance is how far from an integer a value may be and still count
	// as integral.
	IntTolerance float64 `json:"int_tolerance"`
	// MaxNodes caps the number of LP relaxations per block.
	MaxNodes int `json:"max_nodes"`
	// Gap is the relative optimality gap: a block stops once its incumbent is
	// within Gap*|incumbent| (at least 1e-6) of the best open bound.
	Gap float64 `json:"gap"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-7
	}
	if c.IntTolerance <= 0 {
		c.IntTolerance = 1e-6
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = 100000
	}
	if c.Gap <= 0 {
		c.Gap = 1e-6
	}
}

// simplexFunc matches lp.Simplex.
type simplexFunc func(c []float64, A mat.Matrix, b []float64, tol float64, initialBasic []int) (float64, []float64, error)

// lpSimplex points to the LP routine. It can be overridden in tests to
// simulate solver failures.
var lpSimplex simplexFunc = lp.Simplex

// BranchAndBound is a depth-first branch-and-bound MILP solver.
type BranchAndBound struct {
	cfg Config
	log logger.Logger
}

// NewBranchAndBound returns a solver with cfg (defaults applied).
func NewBranchAndBound(cfg Config, log logger.Logger) *BranchAndBound {
	cfg.SetDefaults()
	return &BranchAndBound{cfg: cfg, log: logger.OrNop(log)}
}

// lpStatus is the outcome of one relaxation.
type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
)

// blockResult is the outcome of one block's search.
type blockResult struct {
	status milp.Status
	values []float64 // local order, nil without incumbent
	nodes  int
}

// Solve implements milp.Solver. Independent blocks are solved one after the
// other; with a time limit each block gets an equal share of the time left.
// A solution carries values only when every block found an incumbent.
func (s *BranchAndBound) Solve(ctx context.Context, m *milp.Model, opts milp.Options) (*milp.Solution, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	d := decompose(m)
	values := make([]float64, len(m.Variables))
	for i := range values {
		values[i] = math.NaN()
	}

	for _, ci := range d.empty {
		c := m.Constraints[ci]
		if !satisfied(0, c.Sense, c.RHS, s.cfg.IntTolerance) {
			s.log.Debugf("constraint %s has no terms and cannot hold", c.Name)
			return &milp.Solution{Status: milp.StatusInfeasible}, nil
		}
	}
	for _, j := range d.free {
		v := m.Variables[j]
		lb, ub := s.bounds(v)
		if lb > ub {
			return &milp.Solution{Status: milp.StatusInfeasible}, nil
		}
		switch {
		case v.Cost >= 0:
			values[j] = lb
		case math.IsInf(ub, 1):
			return &milp.Solution{Status: milp.StatusUnbounded}, nil
		default:
			values[j] = ub
		}
	}

	status := milp.StatusOptimal
	totalNodes := 0
	deadline, limited := ctx.Deadline()
	for bi, blk := range d.blocks {
		bctx, cancel := ctx, context.CancelFunc(func() {})
		if limited {
			share := time.Until(deadline) / time.Duration(len(d.blocks)-bi)
			bctx, cancel = context.WithTimeout(ctx, share)
		}
		res, err := s.solveBlock(bctx, m, blk, opts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", bi, err)
		}
		totalNodes += res.nodes
		switch res.status {
		case milp.StatusInfeasible, milp.StatusUnbounded:
			return &milp.Solution{Status: res.status}, nil
		case milp.StatusTimeLimit:
			status = milp.StatusTimeLimit
		}
		if res.values == nil {
			s.log.Warnf("%s: block %d of %d stopped without incumbent after %d nodes", m.Name, bi+1, len(d.blocks), res.nodes)
			return &milp.Solution{Status: milp.StatusTimeLimit}, nil
		}
		for k, j := range blk.vars {
			values[j] = res.values[k]
		}
	}

	var obj float64
	for j, v := range m.Variables {
		obj += v.Cost * values[j]
	}
	s.log.Debugw("milp solved", map[string]any{
		"model":  m.Name,
		"status": status.String(),
		"blocks": len(d.blocks),
		"nodes":  totalNodes,
		"obj":    obj,
	})
	return &milp.Solution{Status: status, Objective: obj, Values: values}, nil
}

// bounds returns the variable bounds, tightened to integers for integer
// variables.
func (s *BranchAndBound) bounds(v milp.Variable) (float64, float64) {
	lb, ub := v.Lower, v.Upper
	if v.Domain == milp.Integer {
		lb = math.Ceil(lb - s.cfg.IntTolerance)
		if !math.IsInf(ub, 1) {
			ub = math.Floor(ub + s.cfg.IntTolerance)
		}
	}
	return lb, ub
}

// node is an open subproblem. bound is the LP objective of its parent, a
// lower bound on anything found below it.
type node struct {
	lb    []float64
	ub    []float64
	bound float64
}

func (n node) branch(j int, lb, ub, bound float64) node {
	c := node{lb: append([]float64(nil), n.lb...), ub: append([]float64(nil), n.ub...), bound: bound}
	c.lb[j], c.ub[j] = lb, ub
	return c
}

//gocyclo:ignore
func (s *BranchAndBound) solveBlock(ctx context.Context, m *milp.Model, blk block, opts milp.Options) (blockResult, error) {
	n := len(blk.vars)
	root := node{lb: make([]float64, n), ub: make([]float64, n), bound: math.Inf(-1)}
	var ints []int
	for k, j := range blk.vars {
		v := m.Variables[j]
		root.lb[k], root.ub[k] = s.bounds(v)
		if v.Domain == milp.Integer {
			ints = append(ints, k)
		}
	}
	rel := newRelaxation(m, blk)
	if cuts := rel.addRoundingCuts(s.cfg.IntTolerance); cuts > 0 {
		s.log.Debugf("%s: %d rounding cuts on a block of %d variables", m.Name, cuts, n)
	}

	var (
		res       blockResult
		best      = math.Inf(1)
		incumbent []float64
		limited   bool
		proved    bool
		isRoot    = true
	)
	improve := func(obj float64, x []float64, how string) {
		best, incumbent = obj, x
		msg := fmt.Sprintf("incumbent %.6g from %s after %d nodes", best, how, res.nodes)
		if opts.Verbose {
			s.log.Infof("%s (%s)", msg, m.Name)
		} else {
			s.log.Debugf("%s (%s)", msg, m.Name)
		}
	}

	stack := []node{root}
	for len(stack) > 0 {
		if incumbent != nil && best-openBound(stack) <= s.gap(best) {
			proved = true
			break
		}
		if ctx.Err() != nil || res.nodes >= s.cfg.MaxNodes {
			limited = true
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nd.bound >= best-s.gap(best) {
			continue
		}
		res.nodes++

		obj, x, st, err := rel.solve(nd.lb, nd.ub, s.cfg.Tolerance)
		if err != nil {
			return res, err
		}
		if isRoot {
			isRoot = false
			if st == lpUnbounded {
				res.status = milp.StatusUnbounded
				return res, nil
			}
		}
		if st != lpOptimal {
			continue
		}
		if obj >= best-s.gap(best) {
			continue
		}
		j := s.mostFractional(x, ints)
		if j < 0 {
			improve(obj, s.round(x, ints), "relaxation")
			continue
		}
		hobj, hx := rel.roundingHeuristic(nd.lb, nd.ub, x, ints, s.cfg)
		if hx != nil && hobj < best-s.gap(best) {
			improve(hobj, hx, "rounding")
		}
		fl := math.Floor(x[j])
		down := nd.branch(j, nd.lb[j], fl, obj)
		up := nd.branch(j, fl+1, nd.ub[j], obj)
		// the child nearest to the relaxation is explored first
		if x[j]-fl < 0.5 {
			stack = append(stack, up, down)
		} else {
			stack = append(stack, down, up)
		}
	}

	res.values = incumbent
	switch {
	case proved || (!limited && incumbent != nil):
		res.status = milp.StatusOptimal
	case limited:
		res.status = milp.StatusTimeLimit
	default:
		res.status = milp.StatusInfeasible
	}
	return res, nil
}

// gap is the tolerance under which a bound cannot improve on best.
func (s *BranchAndBound) gap(best float64) float64 {
	if math.IsInf(best, 1) {
		return 0
	}
	return math.Max(1e-6, s.cfg.Gap*math.Abs(best))
}

// openBound is the smallest parent bound among open nodes.
func openBound(stack []node) float64 {
	b := math.Inf(1)
	for _, nd := range stack {
		b = math.Min(b, nd.bound)
	}
	return b
}

// mostFractional returns the local index of the integer variable furthest
// from an integer, or -1 if all are integral.
func (s *BranchAndBound) mostFractional(x []float64, ints []int) int {
	best, bestFrac := -1, s.cfg.IntTolerance
	for _, k := range ints {
		f := math.Abs(x[k] - math.Round(x[k]))
		if f > bestFrac {
			best, bestFrac = k, f
		}
	}
	return best
}

func (s *BranchAndBound) round(x []float64, ints []int) []float64 {
	out := append([]float64(nil), x...)
	for _, k := range ints {
		out[k] = math.Round(out[k])
	}
	return out
}

func satisfied(lhs float64, sense milp.Sense, rhs, tol float64) bool {
	switch sense {
	case milp.LessEq:
		return lhs <= rhs+tol
	case milp.GreaterEq:
		return lhs >= rhs-tol
	default:
		return math.Abs(lhs-rhs) <= tol
	}
}
