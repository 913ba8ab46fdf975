// Package config loads the engine configuration from a YAML or JSON file with
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetalloc/core/metrics"
	"github.com/kilianp07/fleetalloc/core/runlog"
)

// EnvPrefix prefixes environment overrides. FA_SWEEP__WORKERS=4 sets
// sweep.workers.
const EnvPrefix = "FA_"

type Config struct {
	Demand   DemandConfig   `json:"demand"`
	Model    ModelConfig    `json:"model"`
	Solver   SolverConfig   `json:"solver"`
	Sweep    SweepConfig    `json:"sweep"`
	Marginal MarginalConfig `json:"marginal"`
	Metrics  metrics.Config `json:"metrics"`
	RunLog   runlog.Config  `json:"runlog"`
	Output   OutputConfig   `json:"output"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates every section. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	prefix := strings.ToLower(EnvPrefix)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), prefix)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Model.SetDefaults()
	c.Solver.SetDefaults()
	c.Sweep.SetDefaults()
	c.Marginal.SetDefaults()
	c.RunLog.SetDefaults()
	c.Output.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"model", c.Model.Validate},
		{"solver", c.Solver.Validate},
		{"sweep", c.Sweep.Validate},
		{"marginal", c.Marginal.Validate},
		{"metrics", c.Metrics.Validate},
		{"runlog", c.RunLog.Validate},
		{"output", c.Output.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
	}
	return nil
}
