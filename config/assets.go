package config

import (
	"fmt"
	"time"

	"github.com/enerflow/hybridmpc/emulator"
)

// BESSConfig describes the battery system.
type BESSConfig struct {
	CapacityKWh    float64 `json:"capacity_kwh"`
	SoCInit        float64 `json:"soc_init"`
	SoCMin         float64 `json:"soc_min"`
	SoCMax         float64 `json:"soc_max"`
	SoCTerminal    float64 `json:"soc_terminal"`
	ChargeMaxKW    float64 `json:"charge_max_kw"`
	DischargeMaxKW float64 `json:"discharge_max_kw"`
	EtaCharge      float64 `json:"eta_charge"`
	EtaDischarge   float64 `json:"eta_discharge"`
	RampKWPerMin   float64 `json:"ramp_kw_per_min"`
	Resolution     string  `json:"resolution"`
}

// SetDefaults applies sane defaults.
func (c *BESSConfig) SetDefaults() {
	if c.EtaCharge == 0 {
		c.EtaCharge = 0.95
	}
	if c.EtaDischarge == 0 {
		c.EtaDischarge = 0.95
	}
	if c.SoCTerminal == 0 {
		c.SoCTerminal = c.SoCInit
	}
	if c.Resolution == "" {
		c.Resolution = "1s"
	}
}

// Validate checks the battery envelope.
func (c BESSConfig) Validate() error {
	if c.CapacityKWh <= 0 {
		return fmt.Errorf("bess: capacity_kwh must be positive")
	}
	if c.SoCMin < 0 || c.SoCMax > 1 || c.SoCMin >= c.SoCMax {
		return fmt.Errorf("bess: soc_min/soc_max must satisfy 0 <= min < max <= 1")
	}
	if c.SoCInit < c.SoCMin || c.SoCInit > c.SoCMax {
		return fmt.Errorf("bess: soc_init %.3f outside [%.3f, %.3f]", c.SoCInit, c.SoCMin, c.SoCMax)
	}
	if c.ChargeMaxKW <= 0 || c.DischargeMaxKW <= 0 {
		return fmt.Errorf("bess: charge_max_kw and discharge_max_kw must be positive")
	}
	if c.EtaCharge <= 0 || c.EtaCharge > 1 || c.EtaDischarge <= 0 || c.EtaDischarge > 1 {
		return fmt.Errorf("bess: efficiencies must be in (0, 1]")
	}
	if _, err := time.ParseDuration(c.Resolution); err != nil {
		return fmt.Errorf("bess.resolution: %w", err)
	}
	return nil
}

// Emulator builds the battery emulator.
func (c BESSConfig) Emulator(start time.Time) *emulator.BESS {
	res, _ := time.ParseDuration(c.Resolution)
	return emulator.NewBESS(emulator.BESSConfig{
		CapacityKWh:    c.CapacityKWh,
		SoCInit:        c.SoCInit,
		SoCMin:         c.SoCMin,
		SoCMax:         c.SoCMax,
		ChargeMaxKW:    c.ChargeMaxKW,
		DischargeMaxKW: c.DischargeMaxKW,
		EtaCharge:      c.EtaCharge,
		EtaDischarge:   c.EtaDischarge,
		RampKWPerMin:   c.RampKWPerMin,
		Resolution:     res,
	}, start)
}

// SolarConfig describes the PV unit.
type SolarConfig struct {
	PeakKW     float64 `json:"peak_kw"`
	Resolution string  `json:"resolution"`
}

// SetDefaults applies sane defaults.
func (c *SolarConfig) SetDefaults() {
	if c.Resolution == "" {
		c.Resolution = "1s"
	}
}

// ResolutionDuration parses the native tick.
func (c SolarConfig) ResolutionDuration() (time.Duration, error) {
	return time.ParseDuration(c.Resolution)
}

// Validate checks the PV parameters.
func (c SolarConfig) Validate() error {
	if c.PeakKW <= 0 {
		return fmt.Errorf("solar: peak_kw must be positive")
	}
	if _, err := time.ParseDuration(c.Resolution); err != nil {
		return fmt.Errorf("solar.resolution: %w", err)
	}
	return nil
}

// TurbineConfig describes the hydro unit.
type TurbineConfig struct {
	MinKW        float64 `json:"min_kw"`
	MaxKW        float64 `json:"max_kw"`
	RampKWPerMin float64 `json:"ramp_kw_per_min"`
	StartupTime  string  `json:"startup_time"`
	ShutdownTime string  `json:"shutdown_time"`
	StartupCost  float64 `json:"startup_cost"`
	Resolution   string  `json:"resolution"`
}

// SetDefaults applies sane defaults.
func (c *TurbineConfig) SetDefaults() {
	if c.StartupTime == "" {
		c.StartupTime = "5m"
	}
	if c.ShutdownTime == "" {
		c.ShutdownTime = "5m"
	}
	if c.Resolution == "" {
		c.Resolution = "1m"
	}
}

// Validate checks the turbine envelope.
func (c TurbineConfig) Validate() error {
	if c.MinKW < 0 || c.MaxKW <= c.MinKW {
		return fmt.Errorf("turbine: require 0 <= min_kw < max_kw")
	}
	if c.RampKWPerMin <= 0 {
		return fmt.Errorf("turbine: ramp_kw_per_min must be positive")
	}
	for _, d := range []string{c.StartupTime, c.ShutdownTime, c.Resolution} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("turbine: %w", err)
		}
	}
	return nil
}

// Emulator builds the turbine emulator.
func (c TurbineConfig) Emulator(start time.Time) *emulator.Turbine {
	startup, _ := time.ParseDuration(c.StartupTime)
	shutdown, _ := time.ParseDuration(c.ShutdownTime)
	res, _ := time.ParseDuration(c.Resolution)
	return emulator.NewTurbine(emulator.TurbineConfig{
		MinKW:        c.MinKW,
		MaxKW:        c.MaxKW,
		RampKWPerMin: c.RampKWPerMin,
		StartupTime:  startup,
		ShutdownTime: shutdown,
		StartupCost:  c.StartupCost,
		Resolution:   res,
	}, start)
}

// AssetsConfig bundles the plant's three assets.
type AssetsConfig struct {
	BESS    BESSConfig    `json:"bess"`
	Solar   SolarConfig   `json:"solar"`
	Turbine TurbineConfig `json:"turbine"`
}

// SetDefaults applies defaults per asset.
func (c *AssetsConfig) SetDefaults() {
	c.BESS.SetDefaults()
	c.Solar.SetDefaults()
	c.Turbine.SetDefaults()
}

// Validate checks every asset.
func (c AssetsConfig) Validate() error {
	if err := c.BESS.Validate(); err != nil {
		return err
	}
	if err := c.Solar.Validate(); err != nil {
		return err
	}
	return c.Turbine.Validate()
}
