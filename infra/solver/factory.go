package solver

import (
	"github.com/kilianp07/fleetalloc/core/factory"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/infra/logger"
)

// init registers the built-in solvers.
func init() {
	_ = milp.RegisterSolver("gonum", func(conf map[string]any) (milp.Solver, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewBranchAndBound(c, logger.New("solver")), nil
	})
}
