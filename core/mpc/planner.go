// Package mpc implements the receding-horizon tier planners and the
// coordinator that cascades one tier's trajectory into the next tier's
// constraints.
package mpc

import (
	"fmt"
	"time"

	"github.com/enerflow/hybridmpc/core/logger"
	"github.com/enerflow/hybridmpc/core/model"
	"github.com/enerflow/hybridmpc/core/qp"
)

// Solver abstracts the QP solve so tests can inject failures.
type Solver interface {
	Solve(p *qp.Problem, warm []float64) qp.Result
}

// SolveError reports a resolve that finished with a non-optimal status. The
// planner holds its previous solution in that case.
type SolveError struct {
	Tier   string
	Status model.SolverStatus
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s: solver returned %s", e.Tier, e.Status)
}

// TierRuntimeState is the mutable per-tier state, touched only by its owning
// planner at resolve time (and by the coordinator between resolves, under the
// runner's sequential cycle).
type TierRuntimeState struct {
	LastResolve time.Time
	Last        *model.Solution
	Inherited   map[model.AssetID]model.Bound
	Available   map[model.AssetID][]float64
}

// Planner is one MPC loop with a fixed step/horizon/resolve-interval triple.
type Planner struct {
	name     string
	horizon  model.Horizon
	assets   []qp.AssetSpec
	provider qp.CoefficientProvider
	solver   Solver
	log      logger.Logger

	state TierRuntimeState

	solves int
}

// NewPlanner builds a tier planner. The asset specs carry the static limits;
// live state (SoC, last achieved power) is filled in per resolve.
func NewPlanner(name string, horizon model.Horizon, assets []qp.AssetSpec, provider qp.CoefficientProvider, solver Solver, log logger.Logger) (*Planner, error) {
	if err := horizon.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if solver == nil {
		solver = qp.NewSolver()
	}
	return &Planner{
		name:     name,
		horizon:  horizon,
		assets:   assets,
		provider: provider,
		solver:   solver,
		log:      log,
	}, nil
}

// Name returns the tier identifier.
func (p *Planner) Name() string { return p.name }

// Horizon returns the tier's discretization.
func (p *Planner) Horizon() model.Horizon { return p.horizon }

// Controls lists the assets this tier optimizes, in formulation order.
func (p *Planner) Controls() []model.AssetID {
	ids := make([]model.AssetID, len(p.assets))
	for i, a := range p.assets {
		ids[i] = a.ID
	}
	return ids
}

// Current returns the most recent solution, nil before the first resolve.
func (p *Planner) Current() *model.Solution { return p.state.Last }

// Solves returns how many times the solver has been invoked.
func (p *Planner) Solves() int { return p.solves }

// Due reports whether the tier must re-solve at the given instant: at the
// run start itself and then at every multiple of its resolve interval.
func (p *Planner) Due(now, runStart time.Time) bool {
	last := p.state.LastResolve
	if last.IsZero() {
		return !now.Before(runStart)
	}
	return now.Sub(last) >= p.horizon.ResolveEvery
}

// SetInherited installs the bounds cascaded from the tier above for the next
// resolve.
func (p *Planner) SetInherited(bounds map[model.AssetID]model.Bound) {
	p.state.Inherited = bounds
}

// SetAvailability installs per-step production caps for the next resolve,
// aligned to this tier's step grid. Forecast-driven assets must not be
// scheduled above what the resource can deliver.
func (p *Planner) SetAvailability(caps map[model.AssetID][]float64) {
	p.state.Available = caps
}

// Hold records a resolve attempt that could not run (forecast coverage) and
// keeps the previous solution as the active one.
func (p *Planner) Hold(now time.Time) *model.Solution {
	p.state.LastResolve = now
	return p.state.Last
}

// Resolve runs one receding-horizon solve at now against the per-step net
// load and the latest asset states. On a non-optimal status the previous
// solution stays active and a SolveError is returned.
func (p *Planner) Resolve(now time.Time, netLoadKW []float64, states map[model.AssetID]model.AssetState) (*model.Solution, error) {
	p.state.LastResolve = now

	specs := make([]qp.AssetSpec, len(p.assets))
	copy(specs, p.assets)
	for i := range specs {
		if st, ok := states[specs[i].ID]; ok {
			specs[i].LastPowerKW = st.PowerKW
			if specs[i].Storage {
				specs[i].SoC = st.SoC
			}
		}
	}

	f, err := qp.Build(qp.Inputs{
		Horizon:     p.horizon,
		Start:       now,
		Assets:      specs,
		NetLoadKW:   netLoadKW,
		Inherited:   p.state.Inherited,
		AvailableKW: p.state.Available,
		Provider:    p.provider,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	p.solves++
	res := p.solver.Solve(&f.Problem, f.Warm)
	if res.Status != model.StatusOptimal {
		return nil, &SolveError{Tier: p.name, Status: res.Status}
	}

	sol := &model.Solution{
		Start:     now,
		Step:      p.horizon.Step,
		Setpoints: f.Setpoints(res.X),
		Objective: res.Objective,
		Status:    res.Status,
	}
	p.state.Last = sol
	return sol, nil
}
