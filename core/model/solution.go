package model

import "time"

// SolverStatus reports the outcome of one QP solve.
type SolverStatus int

const (
	StatusOptimal SolverStatus = iota
	StatusInfeasible
	StatusUnbounded
	StatusNumericalError
)

// String returns a human-readable representation of the status.
func (s SolverStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusNumericalError:
		return "numerical_error"
	default:
		return "unknown"
	}
}

// Setpoint is the per-step power trajectory commanded for a single asset.
type Setpoint struct {
	Asset   AssetID
	PowerKW []float64
}

// Leading returns the first-step command, the only part of the trajectory
// that is actually applied before the next resolve.
func (s Setpoint) Leading() float64 {
	if len(s.PowerKW) == 0 {
		return 0
	}
	return s.PowerKW[0]
}

// Solution is the immutable result of one tier resolve. It is superseded,
// never mutated, by the next resolve.
type Solution struct {
	Start     time.Time
	Step      time.Duration
	Setpoints []Setpoint
	Objective float64
	Status    SolverStatus
}

// Trajectory returns the per-step powers solved for the given asset, or nil
// if the asset is not part of the solution.
func (s *Solution) Trajectory(asset AssetID) []float64 {
	for _, sp := range s.Setpoints {
		if sp.Asset == asset {
			return sp.PowerKW
		}
	}
	return nil
}

// At returns the solved power for the asset at the given instant, holding
// each step's value across its interval. The boolean is false when the
// instant falls outside the solution's horizon.
func (s *Solution) At(asset AssetID, t time.Time) (float64, bool) {
	traj := s.Trajectory(asset)
	if traj == nil || t.Before(s.Start) {
		return 0, false
	}
	idx := int(t.Sub(s.Start) / s.Step)
	if idx >= len(traj) {
		return 0, false
	}
	return traj[idx], true
}
