package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetalloc/core/factory"
	coremetrics "github.com/kilianp07/fleetalloc/core/metrics"
)

func TestPromSink_RecordSolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	ev := coremetrics.SolveEvent{Kind: "sweep", Status: "optimal", Runtime: 20 * time.Millisecond, Objective: 12, DemandTotal: 40, ServedTotal: 30}
	require.NoError(t, sink.RecordSolve(ev))
	require.NoError(t, sink.RecordSolve(ev))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.solves.WithLabelValues("sweep", "optimal")))
	assert.Equal(t, 12.0, testutil.ToFloat64(sink.unmet.WithLabelValues("sweep")))
	assert.Equal(t, 0.75, testutil.ToFloat64(sink.served.WithLabelValues("sweep")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.duration))
}

func TestPromSink_MarginalAndSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordMarginal(coremetrics.MarginalEvent{Hour: 8, UnmetReduction: 2}))
	require.NoError(t, sink.RecordSweep(coremetrics.SweepEvent{Points: 6, Failed: 1}))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.marginal.WithLabelValues("8")))
	assert.Equal(t, 6.0, testutil.ToFloat64(sink.sweepPts))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sweepFail))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	ev := coremetrics.SolveEvent{Kind: "solve", Status: "optimal"}
	require.NoError(t, first.RecordSolve(ev))
	require.NoError(t, second.RecordSolve(ev))
	assert.Equal(t, 2.0, testutil.ToFloat64(second.solves.WithLabelValues("solve", "optimal")))
}

func TestFactory_BuiltinSinks(t *testing.T) {
	s, err := coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	_, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "unknown"}})
	assert.Error(t, err)
}
