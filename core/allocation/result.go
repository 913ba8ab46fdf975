package allocation

import (
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/fleetalloc/core/milp"
)

// Row is one (zone, hour) line of an allocation table.
type Row struct {
	Zone     int     `json:"zone"`
	Hour     int     `json:"hour"`
	Demand   float64 `json:"demand"`
	Assigned float64 `json:"assigned"`
	Served   float64 `json:"served"`
	Unmet    float64 `json:"unmet"`
}

// Result is the normalised outcome of one solve. It is built once by the
// Driver and never modified; accessors return copies.
type Result struct {
	status          milp.Status
	objective       float64
	solverObjective float64
	runtime         time.Duration
	rate            float64
	relaxed         bool
	hours           []int
	capacity        []int
	rows            []Row
	demandTotal     float64
	servedTotal     float64
	missing         int
	unvalued        int
	solved          bool
}

// Status returns the solve status.
func (r *Result) Status() milp.Status { return r.status }

// HasSolution reports whether the rows carry solver values. It is false when
// the solver returned none, or left any (zone, hour) row without a value.
func (r *Result) HasSolution() bool { return r.solved }

// Objective is the total unmet demand summed over the table.
func (r *Result) Objective() float64 { return r.objective }

// SolverObjective is the objective value reported by the solver.
func (r *Result) SolverObjective() float64 { return r.solverObjective }

// Runtime is the wall-clock duration of the solver call.
func (r *Result) Runtime() time.Duration { return r.runtime }

// Rate is the throughput rate the model was built with.
func (r *Result) Rate() float64 { return r.rate }

// Relaxed reports whether assignments were continuous.
func (r *Result) Relaxed() bool { return r.relaxed }

// Hours returns the hours of the capacity schedule.
func (r *Result) Hours() []int { return append([]int(nil), r.hours...) }

// Capacity returns the capacity per hour, aligned with Hours.
func (r *Result) Capacity() []int { return append([]int(nil), r.capacity...) }

// Rows returns the allocation table ordered by zone then hour.
func (r *Result) Rows() []Row { return append([]Row(nil), r.rows...) }

// DemandTotal sums demand over the table.
func (r *Result) DemandTotal() float64 { return r.demandTotal }

// ServedTotal sums served trips over the table.
func (r *Result) ServedTotal() float64 { return r.servedTotal }

// ServedFraction is ServedTotal/DemandTotal, or 0 without demand.
func (r *Result) ServedFraction() float64 {
	if r.demandTotal <= 0 {
		return 0
	}
	return r.servedTotal / r.demandTotal
}

// MissingValues counts variables the solver returned no value for; they were
// read as zero.
func (r *Result) MissingValues() int { return r.missing }

// UnvaluedRows counts (zone, hour) rows for which the solver returned neither
// the assignment nor the unmet value.
func (r *Result) UnvaluedRows() int { return r.unvalued }

// HourAssigned sums assigned vehicles over zones for each hour, aligned with
// Hours.
func (r *Result) HourAssigned() []float64 {
	pos := make(map[int]int, len(r.hours))
	for i, h := range r.hours {
		pos[h] = i
	}
	out := make([]float64, len(r.hours))
	for _, row := range r.rows {
		out[pos[row.Hour]] += row.Assigned
	}
	return out
}

// Check re-verifies the allocation invariants within tol: served never
// exceeds demand nor rate*assigned, hourly assignments fit the capacity,
// coverage holds for solved results, and the objective equals the summed
// unmet demand. Values a solver left unset and that were read as zero show up
// as coverage violations.
func (r *Result) Check(tol float64) error {
	var unmet float64
	for _, row := range r.rows {
		if row.Served > row.Demand+tol {
			return fmt.Errorf("zone %d hour %d: served %g exceeds demand %g", row.Zone, row.Hour, row.Served, row.Demand)
		}
		if row.Served > r.rate*row.Assigned+tol {
			return fmt.Errorf("zone %d hour %d: served %g exceeds capacity %g", row.Zone, row.Hour, row.Served, r.rate*row.Assigned)
		}
		if r.HasSolution() && r.rate*row.Assigned+row.Unmet < row.Demand-tol {
			return fmt.Errorf("zone %d hour %d: coverage %g below demand %g", row.Zone, row.Hour, r.rate*row.Assigned+row.Unmet, row.Demand)
		}
		unmet += row.Unmet
	}
	for i, sum := range r.HourAssigned() {
		if sum > float64(r.capacity[i])+tol {
			return fmt.Errorf("hour %d: assigned %g exceeds capacity %d", r.hours[i], sum, r.capacity[i])
		}
	}
	if math.Abs(unmet-r.objective) > tol*math.Max(1, math.Abs(unmet)) {
		return fmt.Errorf("objective %g differs from summed unmet %g", r.objective, unmet)
	}
	return nil
}
