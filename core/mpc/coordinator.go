package mpc

import (
	"fmt"
	"time"

	"github.com/enerflow/hybridmpc/core/model"
)

// Coordinator translates an upper tier's solution into the bounds the next
// tier consumes. The asymmetry is deliberate policy: the reference tier's
// trajectory is a penalized tracking target for the correction tier, while
// the correction tier's storage trajectory becomes a strict band for the
// fast tier, which must not undo what the slower tiers committed.
type Coordinator struct {
	// SoftPenalty is the deviation weight applied to penalized targets.
	SoftPenalty float64
	// BandWidthKW is the half-width of the hard storage band.
	BandWidthKW float64
}

// NewCoordinator validates and builds a Coordinator.
func NewCoordinator(softPenalty, bandWidthKW float64) (*Coordinator, error) {
	if softPenalty <= 0 {
		return nil, fmt.Errorf("coordinator: soft penalty must be positive, got %g", softPenalty)
	}
	if bandWidthKW <= 0 {
		return nil, fmt.Errorf("coordinator: band width must be positive, got %g", bandWidthKW)
	}
	return &Coordinator{SoftPenalty: softPenalty, BandWidthKW: bandWidthKW}, nil
}

// resample holds the upper tier's trajectory onto a finer grid. Steps past
// the upper horizon hold its final value.
func resample(upper *model.Solution, asset model.AssetID, start time.Time, step time.Duration, steps int) []float64 {
	traj := upper.Trajectory(asset)
	if traj == nil {
		return nil
	}
	out := make([]float64, steps)
	for k := 0; k < steps; k++ {
		v, ok := upper.At(asset, start.Add(time.Duration(k)*step))
		if !ok {
			v = traj[len(traj)-1]
		}
		out[k] = v
	}
	return out
}

// SoftTargets builds penalized tracking targets on the lower tier's grid for
// each listed asset the upper solution covers.
func (c *Coordinator) SoftTargets(upper *model.Solution, lower model.Horizon, start time.Time, assets []model.AssetID) map[model.AssetID]model.Bound {
	if upper == nil {
		return nil
	}
	out := make(map[model.AssetID]model.Bound, len(assets))
	for _, id := range assets {
		target := resample(upper, id, start, lower.Step, lower.Steps)
		if target == nil {
			continue
		}
		out[id] = model.Bound{
			Kind:    model.BoundSoft,
			Target:  target,
			Penalty: c.SoftPenalty,
		}
	}
	return out
}

// HardBand builds the strict per-step band around the upper tier's
// trajectory for one asset, on the lower tier's grid.
func (c *Coordinator) HardBand(upper *model.Solution, lower model.Horizon, start time.Time, asset model.AssetID) (model.Bound, bool) {
	if upper == nil {
		return model.Bound{}, false
	}
	center := resample(upper, asset, start, lower.Step, lower.Steps)
	if center == nil {
		return model.Bound{}, false
	}
	lo := make([]float64, lower.Steps)
	hi := make([]float64, lower.Steps)
	for k, v := range center {
		lo[k] = v - c.BandWidthKW
		hi[k] = v + c.BandWidthKW
	}
	return model.Bound{Kind: model.BoundHard, Lower: lo, Upper: hi}, true
}
