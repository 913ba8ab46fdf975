package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/logger"
	"github.com/kilianp07/fleetalloc/core/metrics"
	"github.com/kilianp07/fleetalloc/core/milp"
)

// ErrSolver wraps failures reported by the underlying solver, as opposed to
// infeasible or unbounded outcomes which are plain statuses.
var ErrSolver = errors.New("solver failure")

// objectiveTol bounds the accepted gap between the solver objective and the
// recomputed unmet total before a warning is logged.
const objectiveTol = 1e-6

// Options tune a single solve.
type Options struct {
	Relaxed   bool          `json:"relaxed"`
	TimeLimit time.Duration `json:"time_limit"`
	Verbose   bool          `json:"verbose"`
}

// Params describes one point of the parameter space.
type Params struct {
	Fleet    int         `json:"fleet"`
	Rate     float64     `json:"rate"`
	HourCaps map[int]int `json:"hour_caps,omitempty"`
	Options
}

// Driver builds, solves and normalises allocation models.
type Driver struct {
	solver milp.Solver
	log    logger.Logger
	sink   metrics.MetricsSink
	runID  string
	kind   string
}

// NewDriver returns a Driver using s. A nil log or sink falls back to no-op
// implementations.
func NewDriver(s milp.Solver, log logger.Logger, sink metrics.MetricsSink) *Driver {
	return &Driver{
		solver: s,
		log:    logger.OrNop(log),
		sink:   metrics.OrNop(sink),
		kind:   "solve",
	}
}

// WithRun returns a copy of d tagging its metric events with run id and kind.
func (d *Driver) WithRun(id, kind string) *Driver {
	c := *d
	c.runID = id
	if kind != "" {
		c.kind = kind
	}
	return &c
}

// Solve builds the model for p over table and solves it.
func (d *Driver) Solve(ctx context.Context, table *demand.Table, p Params) (*Result, error) {
	caps, err := Schedule(table, p.Fleet, p.HourCaps)
	if err != nil {
		return nil, err
	}
	prob, err := Build(table, caps, p.Rate, !p.Relaxed)
	if err != nil {
		return nil, err
	}
	res, err := d.SolveProblem(ctx, prob, p.Options)
	if err != nil {
		return nil, err
	}
	d.record(p.Fleet, res)
	return res, nil
}

// SolveProblem runs the solver on an already built problem and turns the
// solution into a Result. Only the solver call is timed.
func (d *Driver) SolveProblem(ctx context.Context, prob *Problem, opts Options) (*Result, error) {
	if d.solver == nil {
		return nil, fmt.Errorf("%w: no solver configured", ErrSolver)
	}
	start := time.Now()
	sol, err := d.solver.Solve(ctx, prob.Model, milp.Options{TimeLimit: opts.TimeLimit, Verbose: opts.Verbose})
	runtime := time.Since(start)
	if err != nil {
		d.log.Errorf("solve %s failed after %s: %v", prob.Model.Name, runtime, err)
		return nil, fmt.Errorf("%w: %w", ErrSolver, err)
	}
	if sol == nil {
		sol = &milp.Solution{}
	}

	res := d.normalise(prob, sol, opts.Relaxed)
	res.runtime = runtime
	if res.missing > 0 && sol.HasValues() {
		d.log.Warnf("solver returned no value for %d variables; read as 0", res.missing)
	}
	if res.unvalued > 0 {
		d.log.Warnf("%d coverage rows have no solver value; result reported without solution", res.unvalued)
	}
	if sol.HasValues() && res.missing == 0 && math.Abs(res.objective-sol.Objective) > objectiveTol*math.Max(1, math.Abs(res.objective)) {
		d.log.Warnf("solver objective %g differs from unmet total %g", sol.Objective, res.objective)
	}
	d.log.Infow("allocation solved", map[string]any{
		"status":  res.status.String(),
		"rate":    prob.Rate,
		"relaxed": opts.Relaxed,
		"unmet":   res.objective,
		"runtime": runtime.Seconds(),
	})
	return res, nil
}

func (d *Driver) normalise(prob *Problem, sol *milp.Solution, relaxed bool) *Result {
	t := prob.Table
	nz, nh := t.NumZones(), t.NumHours()
	res := &Result{
		status:          sol.Status,
		solverObjective: sol.Objective,
		rate:            prob.Rate,
		relaxed:         relaxed,
		hours:           t.Hours(),
		capacity:        append([]int(nil), prob.Capacity...),
		rows:            make([]Row, 0, nz*nh),
	}
	withValues := sol.HasValues()
	value := func(i int) (float64, bool) {
		if !withValues {
			return 0, false
		}
		v, ok := sol.Value(i)
		if !ok {
			res.missing++
			return 0, false
		}
		return v, true
	}

	for zi := 0; zi < nz; zi++ {
		for hi := 0; hi < nh; hi++ {
			dem := t.At(zi, hi)
			xv, xok := value(prob.AssignVar(zi, hi))
			uv, uok := value(prob.UnmetVar(zi, hi))
			if withValues && !xok && !uok {
				res.unvalued++
			}
			x := math.Max(0, xv)
			if prob.Integer {
				x = math.Round(x)
			}
			u := math.Max(0, uv)
			served := math.Min(dem, prob.Rate*x)
			res.rows = append(res.rows, Row{
				Zone:     t.Zone(zi),
				Hour:     t.Hour(hi),
				Demand:   dem,
				Assigned: x,
				Served:   served,
				Unmet:    u,
			})
			res.objective += u
			res.demandTotal += dem
			res.servedTotal += served
		}
	}
	// a coverage row the solver left entirely unvalued means part of the
	// model was never solved
	res.solved = withValues && res.unvalued == 0
	return res
}

func (d *Driver) record(fleet int, res *Result) {
	ev := metrics.SolveEvent{
		RunID:       d.runID,
		Kind:        d.kind,
		Fleet:       fleet,
		Rate:        res.rate,
		Relaxed:     res.relaxed,
		Status:      res.status.String(),
		Runtime:     res.runtime,
		Objective:   res.objective,
		DemandTotal: res.demandTotal,
		ServedTotal: res.servedTotal,
		Time:        time.Now(),
	}
	if err := d.sink.RecordSolve(ev); err != nil {
		d.log.Warnf("record solve metrics: %v", err)
	}
}
