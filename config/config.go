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

	"github.com/kilianp07/roster/api"
	"github.com/kilianp07/roster/core/audit"
	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
	"github.com/kilianp07/roster/infra/mqtt"
)

// EnvPrefix prefixes environment overrides. ROSTER_API__ADDR sets api.addr.
const EnvPrefix = "ROSTER_"

type Config struct {
	// Store selects the persistence backend: memory, sqlite or postgres.
	Store factory.ModuleConfig `json:"store"`
	// Cache selects the forecast diff cache: memory or redis.
	Cache  factory.ModuleConfig `json:"cache"`
	Solver solver.Config        `json:"solver"`
	// Refiner selects the refinement pass used when solver.refine.enabled
	// is set: exact_lns or none.
	Refiner  factory.ModuleConfig `json:"refiner"`
	Forecast forecast.Config      `json:"forecast"`
	Freeze   model.FreezeWindow   `json:"freeze"`
	Policy   audit.Policy         `json:"policy"`
	Metrics  metrics.Config       `json:"metrics"`
	// MQTT is enabled when a broker is set.
	MQTT    mqtt.Config   `json:"mqtt"`
	API     api.Config    `json:"api"`
	Logging LoggingConfig `json:"logging"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		Store:    factory.ModuleConfig{Type: "memory"},
		Cache:    factory.ModuleConfig{Type: "memory"},
		Refiner:  factory.ModuleConfig{Type: "exact_lns"},
		Solver:   solver.DefaultConfig(),
		Forecast: forecast.Config{GranularityMin: 5, MaxInstances: forecast.DefaultMaxInstances},
		Freeze:   model.FreezeWindow{ThresholdMin: 720, Behavior: model.FreezeOverrideRequired},
		Policy:   audit.DefaultPolicy(),
		API:      api.Config{Addr: ":8080", Metrics: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. An empty path loads defaults and environment
// only.
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
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills values a partial file may have zeroed.
func (c *Config) SetDefaults() {
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Refiner.Type == "" {
		c.Refiner.Type = "exact_lns"
	}
	c.Solver.SetDefaults()
	c.Forecast.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if err := c.Forecast.Validate(); err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if c.Freeze.ThresholdMin < 0 {
		return fmt.Errorf("freeze: threshold_minutes must not be negative")
	}
	if c.Policy.MinJustification < 0 {
		return fmt.Errorf("policy: min_justification must not be negative")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
