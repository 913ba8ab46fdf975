// Package sensitivity sweeps the allocation model over a grid of fleet sizes
// and throughput rates.
package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/logger"
	"github.com/kilianp07/fleetalloc/core/metrics"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/core/model"
)

// Grid lists the parameter values to sweep.
type Grid struct {
	Fleets []int     `json:"fleets"`
	Rates  []float64 `json:"rates"`
}

// Size is the number of (rate, fleet) points in the grid.
func (g Grid) Size() int { return len(g.Fleets) * len(g.Rates) }

// Validate checks every grid value.
func (g Grid) Validate() error {
	for _, f := range g.Fleets {
		if f < 0 {
			return model.NewValidationError("fleets", "capacity must be >= 0, got %d", f)
		}
	}
	for _, r := range g.Rates {
		if err := allocation.ValidateRate(r); err != nil {
			return err
		}
	}
	return nil
}

// Record is the outcome of one grid point.
type Record struct {
	Rate           float64       `json:"throughput_rate"`
	Fleet          int           `json:"capacity"`
	Relaxed        bool          `json:"relaxed"`
	Status         milp.Status   `json:"status"`
	Runtime        time.Duration `json:"runtime"`
	DemandTotal    float64       `json:"demand_total"`
	ServedTotal    float64       `json:"served_total"`
	Objective      float64       `json:"objective_unmet"`
	ServedFraction float64       `json:"served_fraction"`
	Err            string        `json:"error,omitempty"`
}

// Options tune a sweep.
type Options struct {
	Solve    allocation.Options
	HourCaps map[int]int
	// Workers bounds concurrent solves; values below 2 solve sequentially.
	Workers int
	OnError allocation.Policy
	// RunID tags metric events; a random id is used when empty.
	RunID string
}

// Runner executes sweeps through an allocation Driver.
type Runner struct {
	driver *allocation.Driver
	log    logger.Logger
	sink   metrics.MetricsSink
}

// NewRunner returns a Runner solving through d.
func NewRunner(d *allocation.Driver, log logger.Logger, sink metrics.MetricsSink) *Runner {
	return &Runner{driver: d, log: logger.OrNop(log), sink: metrics.OrNop(sink)}
}

type point struct {
	idx   int
	rate  float64
	fleet int
}

// Run solves every (rate, fleet) pair of grid independently and returns the
// records sorted by rate then fleet. Inputs are validated before any solve.
func (r *Runner) Run(ctx context.Context, table *demand.Table, grid Grid, opts Options) ([]Record, error) {
	if table.IsEmpty() {
		return nil, demand.ErrEmptyTable
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if _, err := allocation.Schedule(table, 0, opts.HourCaps); err != nil {
		return nil, err
	}
	if grid.Size() == 0 {
		return []Record{}, nil
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	driver := r.driver.WithRun(runID, "sweep")

	points := make([]point, 0, grid.Size())
	for _, rate := range grid.Rates {
		for _, f := range grid.Fleets {
			points = append(points, point{idx: len(points), rate: rate, fleet: f})
		}
	}
	r.log.Infof("sweep %s: %d points (%d rates x %d fleets)", runID, len(points), len(grid.Rates), len(grid.Fleets))

	start := time.Now()
	records := make([]Record, len(points))
	var (
		mu     sync.Mutex
		failed int
	)
	solve := func(ctx context.Context, p point) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := driver.Solve(ctx, table, allocation.Params{
			Fleet:    p.fleet,
			Rate:     p.rate,
			HourCaps: opts.HourCaps,
			Options:  opts.Solve,
		})
		if err != nil {
			if opts.OnError == allocation.PolicyAbort || !errors.Is(err, allocation.ErrSolver) {
				return fmt.Errorf("rate %g fleet %d: %w", p.rate, p.fleet, err)
			}
			r.log.Warnf("rate %g fleet %d: %v", p.rate, p.fleet, err)
			mu.Lock()
			failed++
			mu.Unlock()
			records[p.idx] = Record{Rate: p.rate, Fleet: p.fleet, Relaxed: opts.Solve.Relaxed, Status: milp.StatusNotSolved, DemandTotal: table.Total(), Err: err.Error()}
			return nil
		}
		records[p.idx] = toRecord(p, res)
		r.log.Debugf("rate %g fleet %d: %s unmet=%.3f", p.rate, p.fleet, res.Status(), res.Objective())
		return nil
	}

	if opts.Workers < 2 {
		for _, p := range points {
			if err := solve(ctx, p); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for _, p := range points {
			g.Go(func() error { return solve(gctx, p) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Rate != records[j].Rate {
			return records[i].Rate < records[j].Rate
		}
		return records[i].Fleet < records[j].Fleet
	})

	dur := time.Since(start)
	if rec, ok := r.sink.(metrics.SweepRecorder); ok {
		if err := rec.RecordSweep(metrics.SweepEvent{RunID: runID, Points: len(records), Failed: failed, Duration: dur, Time: time.Now()}); err != nil {
			r.log.Warnf("record sweep metrics: %v", err)
		}
	}
	r.log.Infow("sweep finished", map[string]any{
		"run_id":   runID,
		"points":   len(records),
		"failed":   failed,
		"duration": dur.Seconds(),
	})
	return records, nil
}

func toRecord(p point, res *allocation.Result) Record {
	return Record{
		Rate:           p.rate,
		Fleet:          p.fleet,
		Relaxed:        res.Relaxed(),
		Status:         res.Status(),
		Runtime:        res.Runtime(),
		DemandTotal:    res.DemandTotal(),
		ServedTotal:    res.ServedTotal(),
		Objective:      res.Objective(),
		ServedFraction: res.ServedFraction(),
	}
}
