package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/factory"
	"github.com/kilianp07/fleetalloc/core/marginal"
	"github.com/kilianp07/fleetalloc/core/runlog"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
)

const demandCSV = `pickup_community_area,hour,demand
1,0,10
1,1,5
2,0,8
2,1,12
`

func newService(t *testing.T, format string) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	demandPath := filepath.Join(dir, "demand.csv")
	require.NoError(t, os.WriteFile(demandPath, []byte(demandCSV), 0o644))
	cfg := &config.Config{
		Demand: config.DemandConfig{Path: demandPath},
		RunLog: runlog.Config{Backend: "jsonl", Path: filepath.Join(dir, "runs.jsonl")},
		Output: config.OutputConfig{Dir: filepath.Join(dir, "out"), Format: format},
		Solver: config.SolverConfig{Conf: map[string]any{"max_nodes": 10000}},
	}
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "nop"}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, dir
}

func TestService_Solve(t *testing.T) {
	svc, dir := newService(t, "csv")
	ctx := context.Background()
	table, err := svc.LoadDemand("")
	require.NoError(t, err)

	res, path, err := svc.Solve(ctx, table, allocation.Params{Fleet: 3, Rate: 2, Options: svc.SolveOptions(false)})
	require.NoError(t, err)
	assert.InDelta(t, 23, res.Objective(), 1e-6)
	assert.Equal(t, filepath.Join(dir, "out", "allocation_F3_r2.csv"), path)
	assert.FileExists(t, path)

	runs, err := svc.History(ctx, runlog.Query{Kind: runlog.KindSolve})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "optimal", runs[0].Summary["status"])
	assert.Empty(t, runs[0].Err)
}

func TestService_SweepAndMarginal(t *testing.T) {
	svc, dir := newService(t, "json")
	ctx := context.Background()
	table, err := svc.LoadDemand("")
	require.NoError(t, err)

	recs, path, err := svc.Sweep(ctx, table, sensitivity.Grid{Fleets: []int{5, 10}, Rates: []float64{1}}, sensitivity.Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, filepath.Join(dir, "out", "sensitivity_results.json"), path)

	rep, path, err := svc.Marginal(ctx, table, 3, 2, 1, marginal.Options{})
	require.NoError(t, err)
	require.Len(t, rep.Records, 2)
	assert.FileExists(t, path)

	runs, err := svc.History(ctx, runlog.Query{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runlog.KindSweep, runs[0].Kind)
	assert.Equal(t, runlog.KindMarginal, runs[1].Kind)
	assert.EqualValues(t, 0, runs[1].Summary["best_hour"])
}

func TestService_FailedRunIsLogged(t *testing.T) {
	svc, _ := newService(t, "csv")
	ctx := context.Background()
	table, err := demand.NewTable([]demand.Entry{{Zone: 1, Hour: 0, Demand: 1}})
	require.NoError(t, err)

	_, _, err = svc.Solve(ctx, table, allocation.Params{Fleet: 1, Rate: 0})
	require.Error(t, err)
	runs, err := svc.History(ctx, runlog.Query{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Err, "rate")
}

func TestNew_UnknownSolver(t *testing.T) {
	cfg := &config.Config{Solver: config.SolverConfig{Type: "cplex"}}
	cfg.SetDefaults()
	_, err := New(cfg)
	assert.ErrorContains(t, err, "cplex")
}
