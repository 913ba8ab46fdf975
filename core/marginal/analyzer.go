// Package marginal estimates the value of one extra unit of fleet capacity in
// each hour by re-solving the allocation model with that hour's capacity
// raised and comparing unmet demand against a uniform baseline.
package marginal

import (
	"context"
	"errors"
	"fmt"
	"math"
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

// DefaultDelta is the capacity increment used when none is given.
const DefaultDelta = 1

// ErrNoBaseline is returned when the uniform baseline produced no solution.
var ErrNoBaseline = errors.New("baseline solve produced no solution")

// Record is the marginal value of capacity in one hour.
type Record struct {
	Hour           int         `json:"hour"`
	Increment      int         `json:"capacity_increment"`
	Capacity       int         `json:"capacity"`
	Unmet          float64     `json:"unmet"`
	UnmetReduction float64     `json:"unmet_reduction"`
	Status         milp.Status `json:"status"`
	Err            string      `json:"error,omitempty"`
}

// Report bundles the baseline and the per-hour records sorted by hour.
type Report struct {
	RunID    string
	Fleet    int
	Rate     float64
	Delta    int
	Baseline *allocation.Result
	Records  []Record
}

// Options tune an analysis.
type Options struct {
	Solve   allocation.Options
	Workers int
	OnError allocation.Policy
	RunID   string
}

// Analyzer runs marginal value analyses through an allocation Driver.
type Analyzer struct {
	driver *allocation.Driver
	log    logger.Logger
	sink   metrics.MetricsSink
}

// NewAnalyzer returns an Analyzer solving through d.
func NewAnalyzer(d *allocation.Driver, log logger.Logger, sink metrics.MetricsSink) *Analyzer {
	return &Analyzer{driver: d, log: logger.OrNop(log), sink: metrics.OrNop(sink)}
}

// Analyze solves a baseline with capacity fleet in every hour, then for each
// hour of the table re-solves with that hour alone raised to fleet+delta.
// A zero delta selects DefaultDelta.
func (a *Analyzer) Analyze(ctx context.Context, table *demand.Table, fleet int, rate float64, delta int, opts Options) (*Report, error) {
	if table.IsEmpty() {
		return nil, demand.ErrEmptyTable
	}
	if delta < 0 {
		return nil, model.NewValidationError("delta", "increment must be >= 0, got %d", delta)
	}
	if delta == 0 {
		delta = DefaultDelta
	}
	if fleet < 0 {
		return nil, model.NewValidationError("fleet", "capacity must be >= 0, got %d", fleet)
	}
	if err := allocation.ValidateRate(rate); err != nil {
		return nil, err
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	driver := a.driver.WithRun(runID, "marginal")

	base, err := driver.Solve(ctx, table, allocation.Params{Fleet: fleet, Rate: rate, Options: opts.Solve})
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	if !base.HasSolution() {
		return nil, fmt.Errorf("%w: status %s", ErrNoBaseline, base.Status())
	}
	baseline := base.Objective()
	a.log.Infof("marginal %s: baseline unmet %.3f at fleet %d rate %g", runID, baseline, fleet, rate)

	// table hours are sorted, so records come out ordered by hour
	hours := table.Hours()
	records := make([]Record, len(hours))
	solve := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := hours[i]
		rec := Record{Hour: h, Increment: delta, Capacity: fleet + delta}
		res, err := driver.Solve(ctx, table, allocation.Params{
			Fleet:    fleet,
			Rate:     rate,
			HourCaps: map[int]int{h: fleet + delta},
			Options:  opts.Solve,
		})
		switch {
		case err != nil && (opts.OnError == allocation.PolicyAbort || !errors.Is(err, allocation.ErrSolver)):
			return fmt.Errorf("hour %d: %w", h, err)
		case err != nil:
			a.log.Warnf("hour %d: %v", h, err)
			rec.Status = milp.StatusNotSolved
			rec.Err = err.Error()
		case !res.HasSolution():
			a.log.Warnf("hour %d: no solution (%s); reduction reported as 0", h, res.Status())
			rec.Status = res.Status()
		default:
			rec.Status = res.Status()
			rec.Unmet = res.Objective()
			rec.UnmetReduction = math.Max(0, baseline-res.Objective())
		}
		records[i] = rec
		return nil
	}

	if opts.Workers < 2 {
		for i := range hours {
			if err := solve(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range hours {
			g.Go(func() error { return solve(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	a.record(runID, records)
	return &Report{
		RunID:    runID,
		Fleet:    fleet,
		Rate:     rate,
		Delta:    delta,
		Baseline: base,
		Records:  records,
	}, nil
}

func (a *Analyzer) record(runID string, records []Record) {
	rec, ok := a.sink.(metrics.MarginalRecorder)
	if !ok {
		return
	}
	now := time.Now()
	for _, r := range records {
		if err := rec.RecordMarginal(metrics.MarginalEvent{
			RunID:          runID,
			Hour:           r.Hour,
			Increment:      r.Increment,
			UnmetReduction: r.UnmetReduction,
			Time:           now,
		}); err != nil {
			a.log.Warnf("record marginal metrics: %v", err)
			return
		}
	}
}

// Best returns the record with the largest reduction, ties broken by the
// earliest hour, and false when the report has no records.
func (r *Report) Best() (Record, bool) {
	if r == nil || len(r.Records) == 0 {
		return Record{}, false
	}
	best := r.Records[0]
	for _, rec := range r.Records[1:] {
		if rec.UnmetReduction > best.UnmetReduction+1e-9 {
			best = rec
		}
	}
	return best, true
}
