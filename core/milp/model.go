// Package milp describes mixed-integer linear programs and the contract the
// allocation engine uses to have them solved. It carries no solving logic of
// its own; implementations of Solver live in infra/solver.
package milp

import (
	"fmt"
	"math"
)

// Domain is the value domain of a variable.
type Domain int

const (
	Continuous Domain = iota
	Integer
)

func (d Domain) String() string {
	if d == Integer {
		return "integer"
	}
	return "continuous"
}

// Sense is the comparison operator of a constraint.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "="
	default:
		return "?"
	}
}

// Variable is a decision variable. Upper may be +Inf.
type Variable struct {
	Name   string
	Lower  float64
	Upper  float64
	Domain Domain
	Cost   float64
}

// Term is one coefficient of a linear expression.
type Term struct {
	Var  int
	Coef float64
}

// Constraint is sum(Terms) Sense RHS.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Model is a minimisation MILP: minimize sum(Cost_j * x_j) subject to the
// constraints and variable bounds.
type Model struct {
	Name        string
	Variables   []Variable
	Constraints []Constraint
}

// NewModel returns an empty model.
func NewModel(name string) *Model {
	return &Model{Name: name}
}

// AddVariable appends a variable and returns its index.
func (m *Model) AddVariable(v Variable) int {
	m.Variables = append(m.Variables, v)
	return len(m.Variables) - 1
}

// AddConstraint appends a constraint. Zero coefficients are dropped.
func (m *Model) AddConstraint(c Constraint) (int, error) {
	terms := make([]Term, 0, len(c.Terms))
	for _, t := range c.Terms {
		if t.Var < 0 || t.Var >= len(m.Variables) {
			return -1, fmt.Errorf("constraint %s: unknown variable %d", c.Name, t.Var)
		}
		if t.Coef != 0 {
			terms = append(terms, t)
		}
	}
	c.Terms = terms
	m.Constraints = append(m.Constraints, c)
	return len(m.Constraints) - 1, nil
}

// NumIntegers counts integer variables.
func (m *Model) NumIntegers() int {
	n := 0
	for _, v := range m.Variables {
		if v.Domain == Integer {
			n++
		}
	}
	return n
}

// Validate checks bounds and coefficients are usable by a solver.
func (m *Model) Validate() error {
	for i, v := range m.Variables {
		if math.IsNaN(v.Lower) || math.IsInf(v.Lower, 0) {
			return fmt.Errorf("variable %d (%s): lower bound must be finite", i, v.Name)
		}
		if math.IsNaN(v.Upper) || v.Upper < v.Lower {
			return fmt.Errorf("variable %d (%s): upper bound %g below lower bound %g", i, v.Name, v.Upper, v.Lower)
		}
		if math.IsNaN(v.Cost) || math.IsInf(v.Cost, 0) {
			return fmt.Errorf("variable %d (%s): non-finite cost", i, v.Name)
		}
	}
	for i, c := range m.Constraints {
		if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
			return fmt.Errorf("constraint %d (%s): non-finite rhs", i, c.Name)
		}
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= len(m.Variables) {
				return fmt.Errorf("constraint %d (%s): unknown variable %d", i, c.Name, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("constraint %d (%s): non-finite coefficient", i, c.Name)
			}
		}
	}
	return nil
}

// Evaluate returns the objective value of x.
func (m *Model) Evaluate(x []float64) float64 {
	var obj float64
	for j, v := range m.Variables {
		if j < len(x) {
			obj += v.Cost * x[j]
		}
	}
	return obj
}
