// Package runlog keeps a history of solves, sweeps and marginal analyses so
// past runs can be listed and compared.
package runlog

import (
	"context"
	"time"
)

// Kinds of runs written to the log.
const (
	KindSolve    = "solve"
	KindSweep    = "sweep"
	KindMarginal = "marginal"
)

// Record captures one run: the parameters it was started with and a summary
// of its outcome.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start time.Time
	End   time.Time
	Kind  string
	RunID string
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
