package config

import (
	"strconv"
	"time"

	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/factory"
	"github.com/kilianp07/fleetalloc/core/marginal"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/core/model"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
	"github.com/kilianp07/fleetalloc/pkg/export"
)

// Baseline parameters of the reference study.
const (
	DefaultFleet = 3528
	DefaultRate  = 2.0
)

var (
	defaultFleetGrid = []int{3000, 3300, 3528, 3800, 4200}
	defaultRateGrid  = []float64{1.5, 1.8, 2.0, 2.2, 2.5}
)

// DemandConfig locates the input demand table.
type DemandConfig struct {
	Path string `json:"path"`
}

// ModelConfig holds the parameters of a single solve.
type ModelConfig struct {
	// Fleet is nil when unset; an explicit 0 is kept.
	Fleet *int    `json:"fleet"`
	Rate  float64 `json:"rate"`
	// HourCaps overrides the fleet for some hours, keyed by hour.
	HourCaps map[string]int `json:"hour_caps"`
	Relaxed  bool           `json:"relaxed"`
}

func (c *ModelConfig) SetDefaults() {
	if c.Fleet == nil {
		c.Fleet = intPtr(DefaultFleet)
	}
	if c.Rate == 0 {
		c.Rate = DefaultRate
	}
}

// FleetSize returns the configured fleet or DefaultFleet when unset.
func (c ModelConfig) FleetSize() int { return fleetOr(c.Fleet) }

func (c ModelConfig) Validate() error {
	if f := c.FleetSize(); f < 0 {
		return model.NewValidationError("fleet", "capacity must be >= 0, got %d", f)
	}
	if err := allocation.ValidateRate(c.Rate); err != nil {
		return err
	}
	_, err := c.Overrides()
	return err
}

// Overrides converts HourCaps to an hour-keyed map.
func (c ModelConfig) Overrides() (map[int]int, error) {
	if len(c.HourCaps) == 0 {
		return nil, nil
	}
	out := make(map[int]int, len(c.HourCaps))
	for k, v := range c.HourCaps {
		h, err := strconv.Atoi(k)
		if err != nil || !model.ValidHour(h) {
			return nil, model.NewValidationError("hour_caps", "invalid hour %q", k)
		}
		if v < 0 {
			return nil, model.NewValidationError("hour_caps", "capacity for hour %d must be >= 0, got %d", h, v)
		}
		out[h] = v
	}
	return out, nil
}

// SolverConfig selects the MILP solver and bounds each solve.
type SolverConfig struct {
	Type             string         `json:"type"`
	TimeLimitSeconds float64        `json:"time_limit_seconds"`
	Verbose          bool           `json:"verbose"`
	Conf             map[string]any `json:"conf"`
}

func (c *SolverConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = milp.DefaultSolver
	}
}

func (c SolverConfig) Validate() error {
	if c.TimeLimitSeconds < 0 {
		return model.NewValidationError("time_limit_seconds", "must be >= 0, got %g", c.TimeLimitSeconds)
	}
	return nil
}

// Module returns the registry entry for the configured solver.
func (c SolverConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: c.Type, Conf: c.Conf}
}

// TimeLimit converts TimeLimitSeconds; zero means unlimited.
func (c SolverConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds * float64(time.Second))
}

// SweepConfig describes a sensitivity grid.
type SweepConfig struct {
	Fleets  []int     `json:"fleets"`
	Rates   []float64 `json:"rates"`
	Workers int       `json:"workers"`
	OnError string    `json:"on_error"`
}

func (c *SweepConfig) SetDefaults() {
	if len(c.Fleets) == 0 {
		c.Fleets = append([]int(nil), defaultFleetGrid...)
	}
	if len(c.Rates) == 0 {
		c.Rates = append([]float64(nil), defaultRateGrid...)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

func (c SweepConfig) Validate() error {
	if err := c.Grid().Validate(); err != nil {
		return err
	}
	_, err := allocation.ParsePolicy(c.OnError)
	return err
}

// Grid returns the configured grid.
func (c SweepConfig) Grid() sensitivity.Grid {
	return sensitivity.Grid{Fleets: c.Fleets, Rates: c.Rates}
}

// Policy returns the parsed error policy.
func (c SweepConfig) Policy() allocation.Policy {
	p, _ := allocation.ParsePolicy(c.OnError)
	return p
}

// MarginalConfig describes a marginal value analysis.
type MarginalConfig struct {
	Fleet   *int    `json:"fleet"`
	Rate    float64 `json:"rate"`
	Delta   int     `json:"delta"`
	Workers int     `json:"workers"`
	OnError string  `json:"on_error"`
}

func (c *MarginalConfig) SetDefaults() {
	if c.Fleet == nil {
		c.Fleet = intPtr(DefaultFleet)
	}
	if c.Rate == 0 {
		c.Rate = DefaultRate
	}
	if c.Delta == 0 {
		c.Delta = marginal.DefaultDelta
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// FleetSize returns the baseline fleet or DefaultFleet when unset.
func (c MarginalConfig) FleetSize() int { return fleetOr(c.Fleet) }

func (c MarginalConfig) Validate() error {
	if f := c.FleetSize(); f < 0 {
		return model.NewValidationError("fleet", "capacity must be >= 0, got %d", f)
	}
	if err := allocation.ValidateRate(c.Rate); err != nil {
		return err
	}
	if c.Delta < 0 {
		return model.NewValidationError("delta", "increment must be >= 0, got %d", c.Delta)
	}
	_, err := allocation.ParsePolicy(c.OnError)
	return err
}

// Policy returns the parsed error policy.
func (c MarginalConfig) Policy() allocation.Policy {
	p, _ := allocation.ParsePolicy(c.OnError)
	return p
}

// OutputConfig says where result tables are written.
type OutputConfig struct {
	Dir    string `json:"dir"`
	Format string `json:"format"`
}

func (c *OutputConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.Format == "" {
		c.Format = string(export.FormatCSV)
	}
}

func (c OutputConfig) Validate() error {
	_, err := export.ParseFormat(c.Format)
	return err
}

// ExportFormat returns the parsed output format.
func (c OutputConfig) ExportFormat() export.Format {
	f, _ := export.ParseFormat(c.Format)
	return f
}

func intPtr(v int) *int { return &v }

func fleetOr(f *int) int {
	if f == nil {
		return DefaultFleet
	}
	return *f
}
