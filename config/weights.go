package config

import (
	"fmt"

	"github.com/enerflow/hybridmpc/core/qp"
)

// WeightsConfig tunes the objective terms and the tier coordination.
type WeightsConfig struct {
	Track       float64 `json:"track"`
	Effort      float64 `json:"effort"`
	Smooth      float64 `json:"smooth"`
	TerminalSoC float64 `json:"terminal_soc"`
	// SoftPenalty weights the penalized tracking of the tier above.
	SoftPenalty float64 `json:"soft_penalty"`
	// BandWidthKW is the half-width of the hard battery band.
	BandWidthKW float64 `json:"band_width_kw"`
	// RevenueAware scales tracking by the tariff block exposure.
	RevenueAware bool `json:"revenue_aware"`
}

// SetDefaults applies the standard tuning.
func (c *WeightsConfig) SetDefaults() {
	if c.Track == 0 {
		c.Track = 100
	}
	if c.Effort == 0 {
		c.Effort = 0.01
	}
	if c.Smooth == 0 {
		c.Smooth = 0.1
	}
	if c.TerminalSoC == 0 {
		c.TerminalSoC = 10
	}
	if c.SoftPenalty == 0 {
		c.SoftPenalty = 1
	}
	if c.BandWidthKW == 0 {
		c.BandWidthKW = 10
	}
}

// Validate checks positivity of all weights.
func (c WeightsConfig) Validate() error {
	for name, v := range map[string]float64{
		"track":         c.Track,
		"effort":        c.Effort,
		"smooth":        c.Smooth,
		"terminal_soc":  c.TerminalSoC,
		"soft_penalty":  c.SoftPenalty,
		"band_width_kw": c.BandWidthKW,
	} {
		if v <= 0 {
			return fmt.Errorf("weights: %s must be positive, got %g", name, v)
		}
	}
	return nil
}

// QP returns the objective weight set.
func (c WeightsConfig) QP() qp.Weights {
	return qp.Weights{
		Track:       c.Track,
		Effort:      c.Effort,
		Smooth:      c.Smooth,
		TerminalSoC: c.TerminalSoC,
	}
}
