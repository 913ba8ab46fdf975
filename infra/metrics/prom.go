package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetalloc/core/metrics"
)

// PromSink records solve events in Prometheus metrics.
type PromSink struct {
	solves    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	unmet     *prometheus.GaugeVec
	served    *prometheus.GaugeVec
	marginal  *prometheus.GaugeVec
	sweepPts  prometheus.Gauge
	sweepFail prometheus.Counter
}

// NewPromSink registers allocation metrics on the default Prometheus registerer.
// The /metrics endpoint should be started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetalloc_solves_total",
			Help: "Total number of allocation solves by kind and status",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetalloc_solve_duration_seconds",
			Help:    "Wall-clock duration of the solver call",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		unmet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetalloc_unmet_demand_trips",
			Help: "Total unmet demand of the last solve",
		}, []string{"kind"}),
		served: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetalloc_served_fraction",
			Help: "Served fraction of total demand of the last solve",
		}, []string{"kind"}),
		marginal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetalloc_marginal_unmet_reduction_trips",
			Help: "Unmet demand reduction from adding capacity in one hour",
		}, []string{"hour"}),
		sweepPts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetalloc_sweep_points",
			Help: "Number of grid points in the last sensitivity sweep",
		}),
		sweepFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetalloc_sweep_failed_points_total",
			Help: "Grid points whose solve failed",
		}),
	}

	var err error
	if s.solves, err = register(reg, s.solves); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.unmet, err = register(reg, s.unmet); err != nil {
		return nil, err
	}
	if s.served, err = register(reg, s.served); err != nil {
		return nil, err
	}
	if s.marginal, err = register(reg, s.marginal); err != nil {
		return nil, err
	}
	if s.sweepPts, err = register(reg, s.sweepPts); err != nil {
		return nil, err
	}
	if s.sweepFail, err = register(reg, s.sweepFail); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSolve updates counters, duration histogram and last-solve gauges.
func (s *PromSink) RecordSolve(ev coremetrics.SolveEvent) error {
	s.solves.WithLabelValues(ev.Kind, ev.Status).Inc()
	s.duration.WithLabelValues(ev.Kind).Observe(ev.Runtime.Seconds())
	s.unmet.WithLabelValues(ev.Kind).Set(ev.Objective)
	frac := 0.0
	if ev.DemandTotal > 0 {
		frac = ev.ServedTotal / ev.DemandTotal
	}
	s.served.WithLabelValues(ev.Kind).Set(frac)
	return nil
}

// RecordMarginal sets the per-hour reduction gauge.
func (s *PromSink) RecordMarginal(ev coremetrics.MarginalEvent) error {
	s.marginal.WithLabelValues(strconv.Itoa(ev.Hour)).Set(ev.UnmetReduction)
	return nil
}

// RecordSweep records the size of the last sweep and its failures.
func (s *PromSink) RecordSweep(ev coremetrics.SweepEvent) error {
	s.sweepPts.Set(float64(ev.Points))
	s.sweepFail.Add(float64(ev.Failed))
	return nil
}
