package metrics

import (
	"strings"

	"github.com/kilianp07/fleetalloc/core/factory"
	"github.com/kilianp07/fleetalloc/core/model"
)

// Config lists the sinks receiving solve, sweep and marginal events.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// Listen is the address of the Prometheus /metrics endpoint, empty to
	// disable it.
	Listen string `json:"listen"`
}

// Validate rejects sinks without a type.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if strings.TrimSpace(s.Type) == "" {
			return model.NewValidationError("metrics.sinks", "entry %d has no type", i)
		}
	}
	return nil
}
