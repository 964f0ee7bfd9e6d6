package emulator

import (
	"time"

	"github.com/enerflow/hybridmpc/core/forecast"
	"github.com/enerflow/hybridmpc/core/model"
)

// Solar models a PV unit producing along an irradiance-derived power profile.
// The commanded setpoint is a curtailment cap: the unit delivers the lesser
// of the available power and the cap, never more.
type Solar struct {
	profile    *forecast.Series
	resolution time.Duration
	clock      time.Time

	lastPowerKW float64
}

// NewSolar creates a solar emulator fed by the given power profile.
func NewSolar(profile *forecast.Series, resolution time.Duration, start time.Time) *Solar {
	if resolution <= 0 {
		resolution = time.Second
	}
	return &Solar{profile: profile, resolution: resolution, clock: start}
}

func (s *Solar) Asset() model.AssetID { return model.AssetSolar }

func (s *Solar) Resolution() time.Duration { return s.resolution }

// Step advances the profile by dt and returns the delivered power. The
// profile is sample-and-hold; before its first sample availability is zero.
func (s *Solar) Step(setpointKW float64, dt time.Duration) model.AssetState {
	s.clock = s.clock.Add(dt)

	available, ok := s.profile.At(s.clock)
	if !ok || available < 0 {
		available = 0
	}
	p := available
	if setpointKW < p {
		p = setpointKW
	}
	if p < 0 {
		p = 0
	}
	s.lastPowerKW = p

	return model.AssetState{
		Asset:       model.AssetSolar,
		Timestamp:   s.clock,
		PowerKW:     p,
		AvailableKW: available,
		Clamped:     setpointKW > available,
	}
}
