package emulator

import (
	"math"
	"time"

	"github.com/enerflow/hybridmpc/core/model"
)

// BESSConfig holds the physical parameters of the battery system.
type BESSConfig struct {
	CapacityKWh     float64
	SoCInit         float64
	SoCMin          float64
	SoCMax          float64
	ChargeMaxKW     float64
	DischargeMaxKW  float64
	EtaCharge       float64
	EtaDischarge    float64
	RampKWPerMin    float64
	Resolution      time.Duration
}

// BESS models the battery. Positive power is discharge to the grid, negative
// is charge. SoC evolves with AC-side efficiencies: discharging drains
// p/eta_d, charging stores -p*eta_c.
type BESS struct {
	cfg   BESSConfig
	clock time.Time

	energyKWh   float64
	lastPowerKW float64
}

// NewBESS creates a battery emulator starting at the configured initial SoC.
func NewBESS(cfg BESSConfig, start time.Time) *BESS {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Second
	}
	return &BESS{cfg: cfg, clock: start, energyKWh: cfg.SoCInit * cfg.CapacityKWh}
}

func (b *BESS) Asset() model.AssetID { return model.AssetBESS }

func (b *BESS) Resolution() time.Duration { return b.cfg.Resolution }

// SoC returns the current state of charge as a fraction of capacity.
func (b *BESS) SoC() float64 { return b.energyKWh / b.cfg.CapacityKWh }

// Step applies the setpoint over dt, clamping to ramp, power and SoC limits.
func (b *BESS) Step(setpointKW float64, dt time.Duration) model.AssetState {
	b.clock = b.clock.Add(dt)
	dtHours := dt.Hours()

	p := setpointKW
	if b.cfg.RampKWPerMin > 0 {
		maxDelta := b.cfg.RampKWPerMin * dt.Minutes()
		p = math.Min(math.Max(p, b.lastPowerKW-maxDelta), b.lastPowerKW+maxDelta)
	}
	if p > b.cfg.DischargeMaxKW {
		p = b.cfg.DischargeMaxKW
	}
	if p < -b.cfg.ChargeMaxKW {
		p = -b.cfg.ChargeMaxKW
	}

	minKWh := b.cfg.SoCMin * b.cfg.CapacityKWh
	maxKWh := b.cfg.SoCMax * b.cfg.CapacityKWh
	if dtHours > 0 {
		if p >= 0 {
			next := b.energyKWh - dtHours*p/b.cfg.EtaDischarge
			if next < minKWh {
				p = math.Max(0, (b.energyKWh-minKWh)*b.cfg.EtaDischarge/dtHours)
			}
		} else {
			next := b.energyKWh - dtHours*p*b.cfg.EtaCharge
			if next > maxKWh {
				p = math.Min(0, (b.energyKWh-maxKWh)/(dtHours*b.cfg.EtaCharge))
			}
		}
	}

	if p >= 0 {
		b.energyKWh -= dtHours * p / b.cfg.EtaDischarge
	} else {
		b.energyKWh -= dtHours * p * b.cfg.EtaCharge
	}
	b.lastPowerKW = p

	return model.AssetState{
		Asset:     model.AssetBESS,
		Timestamp: b.clock,
		PowerKW:   p,
		SoC:       b.SoC(),
		Clamped:   math.Abs(p-setpointKW) > 1e-9,
	}
}
