package milp

import (
	"context"
	"math"
	"time"
)

// Status is the normalised outcome of a solve.
type Status int

const (
	StatusNotSolved Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	StatusTimeLimit
)

// String returns the status label used in output tables.
func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeLimit:
		return "time-limit-reached"
	default:
		return "not-solved"
	}
}

// ParseStatus is the inverse of Status.String. Unknown labels map to
// StatusNotSolved.
func ParseStatus(s string) Status {
	for _, st := range []Status{StatusOptimal, StatusInfeasible, StatusUnbounded, StatusTimeLimit} {
		if st.String() == s {
			return st
		}
	}
	return StatusNotSolved
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// Options bound a single solve.
type Options struct {
	// TimeLimit caps the wall-clock time of the solve; zero means no limit.
	TimeLimit time.Duration
	// Verbose asks the solver to log its progress.
	Verbose bool
}

// Solution is what a Solver returns. Values is indexed like Model.Variables;
// it may be shorter than the model or contain NaN for variables the solver
// produced no value for.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
}

// HasValues reports whether the solution carries variable values.
func (s *Solution) HasValues() bool {
	return s != nil && len(s.Values) > 0 && (s.Status == StatusOptimal || s.Status == StatusTimeLimit)
}

// Value returns the value of variable i and whether the solver set one.
func (s *Solution) Value(i int) (float64, bool) {
	if s == nil || i < 0 || i >= len(s.Values) || math.IsNaN(s.Values[i]) {
		return 0, false
	}
	return s.Values[i], true
}

// Solver solves a Model. A non-nil error means the solving capability itself
// failed; infeasible or unbounded models are reported through Solution.Status.
type Solver interface {
	Solve(ctx context.Context, m *Model, opts Options) (*Solution, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, m *Model, opts Options) (*Solution, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, m *Model, opts Options) (*Solution, error) {
	return f(ctx, m, opts)
}
