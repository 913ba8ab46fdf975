// Package allocation builds the fleet allocation MILP from a demand table and
// turns solver output into immutable allocation results.
//
// For every (zone, hour) the model has an assignment variable x (vehicles,
// integer unless relaxed) and an unmet-demand slack u. It minimises the sum of
// u subject to
//
//	r*x(z,h) + u(z,h) >= demand(z,h)   for every zone and hour
//	sum_z x(z,h)       <= capacity(h)   for every hour
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/core/model"
)

// Problem is a built allocation model together with the dense index arrays
// mapping (zone, hour) to its variables.
type Problem struct {
	Model    *milp.Model
	Table    *demand.Table
	Rate     float64
	Capacity []int // indexed like Table.Hours()
	Integer  bool

	assign [][]int // [zone][hour] -> variable index
	unmet  [][]int
}

// AssignVar returns the index of the assignment variable at dense (zi, hi).
func (p *Problem) AssignVar(zi, hi int) int { return p.assign[zi][hi] }

// UnmetVar returns the index of the unmet slack variable at dense (zi, hi).
func (p *Problem) UnmetVar(zi, hi int) int { return p.unmet[zi][hi] }

// ValidateRate checks the throughput rate is a positive finite number.
func ValidateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return model.NewValidationError("rate", "throughput rate must be > 0, got %g", rate)
	}
	return nil
}

// Schedule returns one capacity per hour of the table: fleet everywhere
// except for hours present in overrides. Overrides for hours absent from the
// table are ignored.
func Schedule(table *demand.Table, fleet int, overrides map[int]int) ([]int, error) {
	if table.IsEmpty() {
		return nil, demand.ErrEmptyTable
	}
	if fleet < 0 {
		return nil, model.NewValidationError("fleet", "capacity must be >= 0, got %d", fleet)
	}
	hours := make([]int, 0, len(overrides))
	for h := range overrides {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	for _, h := range hours {
		if !model.ValidHour(h) {
			return nil, model.NewValidationError("hour_caps", "hour %d outside [0,%d]", h, model.HoursPerDay-1)
		}
		if overrides[h] < 0 {
			return nil, model.NewValidationError("hour_caps", "capacity for hour %d must be >= 0, got %d", h, overrides[h])
		}
	}

	caps := make([]int, table.NumHours())
	for hi := range caps {
		caps[hi] = fleet
		if c, ok := overrides[table.Hour(hi)]; ok {
			caps[hi] = c
		}
	}
	return caps, nil
}

// Build translates a demand table, a per-hour capacity schedule and a
// throughput rate into a MILP. integer selects integer assignment variables;
// otherwise they are continuous.
func Build(table *demand.Table, caps []int, rate float64, integer bool) (*Problem, error) {
	if table.IsEmpty() {
		return nil, demand.ErrEmptyTable
	}
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	if len(caps) != table.NumHours() {
		return nil, model.NewValidationError("capacity", "schedule has %d hours, table has %d", len(caps), table.NumHours())
	}
	for hi, c := range caps {
		if c < 0 {
			return nil, model.NewValidationError("capacity", "hour %d: capacity must be >= 0, got %d", table.Hour(hi), c)
		}
	}

	nz, nh := table.NumZones(), table.NumHours()
	domain := milp.Continuous
	if integer {
		domain = milp.Integer
	}
	m := milp.NewModel("fleet_allocation_min_unmet")
	m.Variables = make([]milp.Variable, 0, 2*nz*nh)
	m.Constraints = make([]milp.Constraint, 0, nz*nh+nh)

	p := &Problem{
		Model:    m,
		Table:    table,
		Rate:     rate,
		Capacity: append([]int(nil), caps...),
		Integer:  integer,
		assign:   make([][]int, nz),
		unmet:    make([][]int, nz),
	}
	for zi := 0; zi < nz; zi++ {
		p.assign[zi] = make([]int, nh)
		p.unmet[zi] = make([]int, nh)
		for hi := 0; hi < nh; hi++ {
			z, h := table.Zone(zi), table.Hour(hi)
			p.assign[zi][hi] = m.AddVariable(milp.Variable{
				Name:   fmt.Sprintf("x_%d_%d", z, h),
				Upper:  math.Inf(1),
				Domain: domain,
			})
			p.unmet[zi][hi] = m.AddVariable(milp.Variable{
				Name:   fmt.Sprintf("u_%d_%d", z, h),
				Upper:  math.Inf(1),
				Domain: milp.Continuous,
				Cost:   1,
			})
		}
	}

	for zi := 0; zi < nz; zi++ {
		for hi := 0; hi < nh; hi++ {
			_, err := m.AddConstraint(milp.Constraint{
				Name: fmt.Sprintf("cover_a%d_h%d", table.Zone(zi), table.Hour(hi)),
				Terms: []milp.Term{
					{Var: p.assign[zi][hi], Coef: rate},
					{Var: p.unmet[zi][hi], Coef: 1},
				},
				Sense: milp.GreaterEq,
				RHS:   table.At(zi, hi),
			})
			if err != nil {
				return nil, err
			}
		}
	}
	for hi := 0; hi < nh; hi++ {
		terms := make([]milp.Term, nz)
		for zi := 0; zi < nz; zi++ {
			terms[zi] = milp.Term{Var: p.assign[zi][hi], Coef: 1}
		}
		_, err := m.AddConstraint(milp.Constraint{
			Name:  fmt.Sprintf("fleetcap_h%d", table.Hour(hi)),
			Terms: terms,
			Sense: milp.LessEq,
			RHS:   float64(caps[hi]),
		})
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}
