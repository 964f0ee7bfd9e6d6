package emulator

import (
	"math"
	"time"

	"github.com/enerflow/hybridmpc/core/model"
)

// TurbineState is the operating state of the hydro unit.
type TurbineState int

const (
	TurbineShutdown TurbineState = iota
	TurbineStart
	TurbineRampUp
	TurbineNormal
	TurbineRampDown
)

func (s TurbineState) String() string {
	switch s {
	case TurbineShutdown:
		return "shutdown"
	case TurbineStart:
		return "start"
	case TurbineRampUp:
		return "ramp_up"
	case TurbineNormal:
		return "normal"
	case TurbineRampDown:
		return "ramp_down"
	default:
		return "unknown"
	}
}

// TurbineConfig holds the physical parameters of the hydro unit.
type TurbineConfig struct {
	MinKW        float64
	MaxKW        float64
	RampKWPerMin float64
	StartupTime  time.Duration
	ShutdownTime time.Duration
	StartupCost  float64
	Resolution   time.Duration
}

// Turbine is a five-state hydro unit: a timed start with zero output, ramp up
// into the [min, max] operating window, normal ramp-limited operation, ramp
// down toward zero, and a timed shutdown. A positive setpoint starts the unit
// when needed; a zero setpoint winds it down.
type Turbine struct {
	cfg   TurbineConfig
	clock time.Time

	state    TurbineState
	powerKW  float64
	targetKW float64
	timer    time.Duration

	energyKWh   float64
	startupCost float64
}

// NewTurbine creates a turbine emulator, fully shut down.
func NewTurbine(cfg TurbineConfig, start time.Time) *Turbine {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Minute
	}
	return &Turbine{cfg: cfg, clock: start, state: TurbineShutdown}
}

func (t *Turbine) Asset() model.AssetID { return model.AssetTurbine }

func (t *Turbine) Resolution() time.Duration { return t.cfg.Resolution }

// State returns the current operating state.
func (t *Turbine) State() TurbineState { return t.state }

// EnergyKWh returns the cumulative produced energy.
func (t *Turbine) EnergyKWh() float64 { return t.energyKWh }

// StartupCost returns the cost accumulated across starts.
func (t *Turbine) StartupCost() float64 { return t.startupCost }

// request updates the external target and triggers the matching transition.
func (t *Turbine) request(kw float64) {
	t.targetKW = math.Max(0, kw)
	switch {
	case t.state == TurbineShutdown && t.targetKW > 0 && t.timer <= 0:
		t.state = TurbineStart
		t.powerKW = 0
		t.timer = t.cfg.StartupTime
	case t.targetKW == 0 && (t.state == TurbineRampUp || t.state == TurbineNormal):
		t.state = TurbineRampDown
	case t.targetKW > 0 && t.state == TurbineRampDown:
		t.state = TurbineRampUp
	}
}

// operatingTarget clips the requested power into the physical window.
func (t *Turbine) operatingTarget() float64 {
	if t.targetKW <= 0 {
		return 0
	}
	return math.Min(math.Max(t.targetKW, t.cfg.MinKW), t.cfg.MaxKW)
}

// Step applies the setpoint over dt and advances the state machine.
func (t *Turbine) Step(setpointKW float64, dt time.Duration) model.AssetState {
	t.request(setpointKW)
	t.clock = t.clock.Add(dt)
	ramp := t.cfg.RampKWPerMin * dt.Minutes()
	const eps = 1e-9

	switch t.state {
	case TurbineStart:
		t.powerKW = 0
		t.timer -= dt
		if t.timer <= 0 {
			// Startup cost is charged once the unit becomes able to produce.
			t.startupCost += t.cfg.StartupCost
			t.state = TurbineRampUp
		}

	case TurbineRampUp, TurbineNormal:
		if t.targetKW <= 0 {
			t.state = TurbineRampDown
			break
		}
		desired := t.operatingTarget()
		switch {
		case desired > t.powerKW+eps:
			t.powerKW = math.Min(t.powerKW+ramp, desired)
		case desired < t.powerKW-eps:
			t.powerKW = math.Max(t.powerKW-ramp, math.Max(t.cfg.MinKW, desired))
		default:
			t.powerKW = desired
			t.state = TurbineNormal
		}

	case TurbineRampDown:
		if t.powerKW > 0 {
			t.powerKW = math.Max(0, t.powerKW-ramp)
		}
		if t.powerKW <= eps {
			t.state = TurbineShutdown
			t.powerKW = 0
			t.timer = t.cfg.ShutdownTime
		}

	case TurbineShutdown:
		t.powerKW = 0
		if t.timer > 0 {
			t.timer -= dt
		}
		if t.timer <= 0 && t.targetKW > 0 {
			t.state = TurbineStart
			t.timer = t.cfg.StartupTime
		}
	}

	t.energyKWh += t.powerKW * dt.Hours()

	running := t.state == TurbineRampUp || t.state == TurbineNormal || t.state == TurbineRampDown
	return model.AssetState{
		Asset:     model.AssetTurbine,
		Timestamp: t.clock,
		PowerKW:   t.powerKW,
		Running:   running,
		Clamped:   math.Abs(t.powerKW-setpointKW) > eps,
	}
}
