package milp

import "github.com/kilianp07/fleetalloc/core/factory"

// DefaultSolver is the solver type used when the configuration names none.
const DefaultSolver = "gonum"

var solverRegistry = factory.NewRegistry[Solver]()

// RegisterSolver adds a solver factory identified by name.
func RegisterSolver(name string, f factory.Factory[Solver]) error {
	return solverRegistry.Register(name, f)
}

// NewSolver creates the Solver described by cfg.
func NewSolver(cfg factory.ModuleConfig) (Solver, error) {
	if cfg.Type == "" {
		cfg.Type = DefaultSolver
	}
	return solverRegistry.Create(cfg)
}

// SolverNames lists registered solver types.
func SolverNames() []string { return solverRegistry.Names() }
