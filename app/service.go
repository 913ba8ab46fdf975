// Package app wires configuration into the allocation engine: solver,
// metrics sinks, run log and result exports.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/marginal"
	coremetrics "github.com/kilianp07/fleetalloc/core/metrics"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/core/runlog"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
	"github.com/kilianp07/fleetalloc/infra/logger"
	"github.com/kilianp07/fleetalloc/infra/metrics"
	_ "github.com/kilianp07/fleetalloc/infra/solver"
	"github.com/kilianp07/fleetalloc/pkg/export"
)

// Service holds the engine components built from a configuration.
type Service struct {
	Driver   *allocation.Driver
	Runner   *sensitivity.Runner
	Analyzer *marginal.Analyzer

	cfg   *config.Config
	sink  coremetrics.MetricsSink
	store runlog.Store
	log   logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	solver, err := milp.NewSolver(cfg.Solver.Module())
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := runlog.Open(cfg.RunLog)
	if err != nil {
		closeSink(sink)
		return nil, fmt.Errorf("run log: %w", err)
	}
	driver := allocation.NewDriver(solver, logger.New("driver"), sink)
	return &Service{
		Driver:   driver,
		Runner:   sensitivity.NewRunner(driver, logger.New("sensitivity"), sink),
		Analyzer: marginal.NewAnalyzer(driver, logger.New("marginal"), sink),
		cfg:      cfg,
		sink:     sink,
		store:    store,
		log:      logg,
	}, nil
}

// Serve exposes Prometheus metrics when a listen address is configured. It
// returns immediately; the server stops with ctx.
func (s *Service) Serve(ctx context.Context) {
	addr := s.cfg.Metrics.Listen
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartPromServer(ctx, addr); err != nil {
			s.log.Errorf("prom server: %v", err)
		}
	}()
	s.log.Infof("metrics listening on %s", addr)
}

// LoadDemand reads the demand table at path, or the configured one when path
// is empty.
func (s *Service) LoadDemand(path string) (*demand.Table, error) {
	if path == "" {
		path = s.cfg.Demand.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no demand table configured")
	}
	t, err := demand.LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.log.Infof("loaded %s: %d zones, %d hours, %.1f trips", path, t.NumZones(), t.NumHours(), t.Total())
	return t, nil
}

// SolveOptions returns the solve options from the configuration.
func (s *Service) SolveOptions(relaxed bool) allocation.Options {
	return allocation.Options{
		Relaxed:   relaxed,
		TimeLimit: s.cfg.Solver.TimeLimit(),
		Verbose:   s.cfg.Solver.Verbose,
	}
}

// Solve runs one allocation, writes the allocation table and logs the run.
// It returns the result and the written file.
func (s *Service) Solve(ctx context.Context, table *demand.Table, p allocation.Params) (*allocation.Result, string, error) {
	runID := uuid.NewString()
	params := map[string]any{"fleet": p.Fleet, "rate": p.Rate, "relaxed": p.Relaxed, "hour_caps": p.HourCaps}
	res, err := s.Driver.WithRun(runID, runlog.KindSolve).Solve(ctx, table, p)
	if err != nil {
		s.logRun(ctx, runID, runlog.KindSolve, params, nil, err)
		return nil, "", err
	}
	if err := res.Check(1e-6); err != nil {
		s.log.Warnf("allocation check: %v", err)
	}
	path, err := s.write(fmt.Sprintf("allocation_F%d_r%g", p.Fleet, p.Rate), func(w io.Writer, f export.Format) error {
		return export.WriteAllocation(w, f, res.Rows())
	})
	s.logRun(ctx, runID, runlog.KindSolve, params, map[string]any{
		"status":          res.Status().String(),
		"objective_unmet": res.Objective(),
		"served_fraction": res.ServedFraction(),
		"runtime_sec":     res.Runtime().Seconds(),
		"output":          path,
	}, err)
	return res, path, err
}

// Sweep runs a sensitivity sweep and writes the sensitivity table.
func (s *Service) Sweep(ctx context.Context, table *demand.Table, grid sensitivity.Grid, opts sensitivity.Options) ([]sensitivity.Record, string, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	params := map[string]any{"fleets": grid.Fleets, "rates": grid.Rates, "relaxed": opts.Solve.Relaxed, "on_error": opts.OnError.String()}
	recs, err := s.Runner.Run(ctx, table, grid, opts)
	if err != nil {
		s.logRun(ctx, opts.RunID, runlog.KindSweep, params, nil, err)
		return nil, "", err
	}
	path, err := s.write("sensitivity_results", func(w io.Writer, f export.Format) error {
		return export.WriteSensitivity(w, f, recs)
	})
	s.logRun(ctx, opts.RunID, runlog.KindSweep, params, map[string]any{"points": len(recs), "output": path}, err)
	return recs, path, err
}

// Marginal runs a marginal value analysis and writes the marginal table.
func (s *Service) Marginal(ctx context.Context, table *demand.Table, fleet int, rate float64, delta int, opts marginal.Options) (*marginal.Report, string, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	params := map[string]any{"fleet": fleet, "rate": rate, "delta": delta, "relaxed": opts.Solve.Relaxed}
	rep, err := s.Analyzer.Analyze(ctx, table, fleet, rate, delta, opts)
	if err != nil {
		s.logRun(ctx, opts.RunID, runlog.KindMarginal, params, nil, err)
		return nil, "", err
	}
	path, err := s.write(fmt.Sprintf("marginal_value_per_hour_F%d_r%g", fleet, rate), func(w io.Writer, f export.Format) error {
		return export.WriteMarginal(w, f, rep.Records)
	})
	summary := map[string]any{"baseline_unmet": rep.Baseline.Objective(), "hours": len(rep.Records), "output": path}
	if best, ok := rep.Best(); ok {
		summary["best_hour"] = best.Hour
		summary["best_reduction"] = best.UnmetReduction
	}
	s.logRun(ctx, opts.RunID, runlog.KindMarginal, params, summary, err)
	return rep, path, err
}

// History returns past runs matching q.
func (s *Service) History(ctx context.Context, q runlog.Query) ([]runlog.Record, error) {
	return s.store.Query(ctx, q)
}

func (s *Service) write(name string, fn func(io.Writer, export.Format) error) (string, error) {
	path, err := export.ToFile(s.cfg.Output.Dir, name, s.cfg.Output.ExportFormat(), fn)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	s.log.Infof("wrote %s", path)
	return path, nil
}

func (s *Service) logRun(ctx context.Context, runID, kind string, params, summary map[string]any, runErr error) {
	rec := runlog.Record{
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Kind:      kind,
		Params:    params,
		Summary:   summary,
	}
	if runErr != nil {
		rec.Err = runErr.Error()
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.log.Warnf("run log append: %v", err)
	}
}

// Close releases the run log and metrics sinks.
func (s *Service) Close() error {
	closeSink(s.sink)
	return s.store.Close()
}

func closeSink(sink coremetrics.MetricsSink) {
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
}
