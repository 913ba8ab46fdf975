package metrics

import "time"

// SolveEvent describes one completed solve.
type SolveEvent struct {
	RunID       string
	Kind        string // solve, sweep or marginal
	Fleet       int
	Rate        float64
	Relaxed     bool
	Status      string
	Runtime     time.Duration
	Objective   float64
	DemandTotal float64
	ServedTotal float64
	Time        time.Time
}

// MetricsSink records solve events for observability purposes.
type MetricsSink interface {
	RecordSolve(ev SolveEvent) error
}

// MarginalEvent carries the unmet reduction obtained for one hour.
type MarginalEvent struct {
	RunID          string
	Hour           int
	Increment      int
	UnmetReduction float64
	Time           time.Time
}

// MarginalRecorder is implemented by sinks able to record marginal values.
type MarginalRecorder interface {
	RecordMarginal(ev MarginalEvent) error
}

// SweepEvent summarises a finished sensitivity sweep.
type SweepEvent struct {
	RunID    string
	Points   int
	Failed   int
	Duration time.Duration
	Time     time.Time
}

// SweepRecorder is implemented by sinks able to record sweep summaries.
type SweepRecorder interface {
	RecordSweep(ev SweepEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSolve(SolveEvent) error       { return nil }
func (NopSink) RecordMarginal(MarginalEvent) error { return nil }
func (NopSink) RecordSweep(SweepEvent) error       { return nil }

// OrNop returns s, or a NopSink when s is nil.
func OrNop(s MetricsSink) MetricsSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
