// Package config loads and validates the full plant configuration from a
// JSON or YAML file with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/enerflow/hybridmpc/core/metrics"
	"github.com/enerflow/hybridmpc/core/model"
	"github.com/enerflow/hybridmpc/infra/mqtt"
)

// Config is the root of the plant configuration.
type Config struct {
	Run       RunConfig      `json:"run"`
	Tiers     TiersConfig    `json:"tiers"`
	Assets    AssetsConfig   `json:"assets"`
	Weights   WeightsConfig  `json:"weights"`
	Forecast  ForecastConfig `json:"forecast"`
	Logging   LoggingConfig  `json:"logging"`
	Metrics   metrics.Config `json:"metrics"`
	Telemetry mqtt.Config    `json:"telemetry"`
}

// RunConfig is the simulated run window.
type RunConfig struct {
	// Start and End are RFC3339 timestamps.
	Start string `json:"start"`
	End   string `json:"end"`
	// Tick is the clock granularity as a Go duration string.
	Tick string `json:"tick"`
}

// SetDefaults applies sane defaults.
func (c *RunConfig) SetDefaults() {
	if c.Tick == "" {
		c.Tick = "1m"
	}
}

// Window parses and returns the run window.
func (c RunConfig) Window() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return start, end, fmt.Errorf("run.start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, c.End)
	if err != nil {
		return start, end, fmt.Errorf("run.end: %w", err)
	}
	return start, end, nil
}

// TickDuration parses the tick.
func (c RunConfig) TickDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Tick)
	if err != nil {
		return 0, fmt.Errorf("run.tick: %w", err)
	}
	return d, nil
}

// Validate checks the run window.
func (c RunConfig) Validate() error {
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("run: end must be after start")
	}
	tick, err := c.TickDuration()
	if err != nil {
		return err
	}
	if tick <= 0 {
		return fmt.Errorf("run: tick must be positive")
	}
	return nil
}

// TierConfig is one planner's discretization.
type TierConfig struct {
	// Step is the discretization interval as a Go duration string.
	Step string `json:"step"`
	// Steps is the number of horizon intervals.
	Steps int `json:"steps"`
	// ResolveEvery is the re-solve cadence, a multiple of Step.
	ResolveEvery string `json:"resolve_every"`
}

// Horizon parses the tier into a model horizon.
func (c TierConfig) Horizon() (model.Horizon, error) {
	step, err := time.ParseDuration(c.Step)
	if err != nil {
		return model.Horizon{}, fmt.Errorf("step: %w", err)
	}
	every, err := time.ParseDuration(c.ResolveEvery)
	if err != nil {
		return model.Horizon{}, fmt.Errorf("resolve_every: %w", err)
	}
	h := model.Horizon{Step: step, Steps: c.Steps, ResolveEvery: every}
	if err := h.Validate(); err != nil {
		return model.Horizon{}, err
	}
	return h, nil
}

// TiersConfig holds the three planner cadences, slowest to fastest.
type TiersConfig struct {
	Tier1 TierConfig `json:"tier1"`
	Tier2 TierConfig `json:"tier2"`
	Tier3 TierConfig `json:"tier3"`
}

// SetDefaults applies the standard cascade: a two-day reference plan at
// fifteen minutes, a one-day correction plan at five minutes and a
// fifteen-minute dispatch plan at one minute.
func (c *TiersConfig) SetDefaults() {
	if c.Tier1 == (TierConfig{}) {
		c.Tier1 = TierConfig{Step: "15m", Steps: 192, ResolveEvery: "15m"}
	}
	if c.Tier2 == (TierConfig{}) {
		c.Tier2 = TierConfig{Step: "5m", Steps: 288, ResolveEvery: "5m"}
	}
	if c.Tier3 == (TierConfig{}) {
		c.Tier3 = TierConfig{Step: "1m", Steps: 15, ResolveEvery: "1m"}
	}
}

// Validate parses all tiers and checks the cascade ordering.
func (c TiersConfig) Validate() error {
	h1, err := c.Tier1.Horizon()
	if err != nil {
		return fmt.Errorf("tiers.tier1: %w", err)
	}
	h2, err := c.Tier2.Horizon()
	if err != nil {
		return fmt.Errorf("tiers.tier2: %w", err)
	}
	h3, err := c.Tier3.Horizon()
	if err != nil {
		return fmt.Errorf("tiers.tier3: %w", err)
	}
	if !(h1.Step > h2.Step && h2.Step > h3.Step) {
		return fmt.Errorf("tiers: steps must strictly decrease from tier1 to tier3")
	}
	return nil
}

// ForecastConfig points at the exogenous series files.
type ForecastConfig struct {
	DemandPath        string `json:"demand_path"`
	SolarForecastPath string `json:"solar_forecast_path"`
	SolarActualPath   string `json:"solar_actual_path"`
	// SolarProfilePath feeds the PV emulator; defaults to the actuals.
	SolarProfilePath string `json:"solar_profile_path"`
}

// SetDefaults falls back to driving the PV emulator with the actuals, then
// the forecast.
func (c *ForecastConfig) SetDefaults() {
	if c.SolarProfilePath == "" {
		if c.SolarActualPath != "" {
			c.SolarProfilePath = c.SolarActualPath
		} else {
			c.SolarProfilePath = c.SolarForecastPath
		}
	}
}

// Validate checks the mandatory series.
func (c ForecastConfig) Validate() error {
	if c.DemandPath == "" {
		return fmt.Errorf("forecast: demand_path is required")
	}
	if c.SolarForecastPath == "" {
		return fmt.Errorf("forecast: solar_forecast_path is required")
	}
	return nil
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
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
	// Optional environment overrides
	if err := k.Load(env.Provider("HMPC_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "hmpc_")
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

// SetDefaults applies defaults section by section.
func (c *Config) SetDefaults() {
	c.Run.SetDefaults()
	c.Tiers.SetDefaults()
	c.Assets.SetDefaults()
	c.Weights.SetDefaults()
	c.Forecast.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section. Any error here is a startup failure.
func (c *Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return err
	}
	if err := c.Tiers.Validate(); err != nil {
		return err
	}
	if err := c.Assets.Validate(); err != nil {
		return err
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Forecast.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}
