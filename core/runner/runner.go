// Package runner drives the simulated-time dispatch loop: it advances the
// plant clock tick by tick, resolves whichever tiers are due, cascades their
// trajectories down, and steps the asset emulators on their native grids.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/enerflow/hybridmpc/core/forecast"
	"github.com/enerflow/hybridmpc/core/logger"
	"github.com/enerflow/hybridmpc/core/metrics"
	"github.com/enerflow/hybridmpc/core/model"
	"github.com/enerflow/hybridmpc/core/mpc"
	"github.com/enerflow/hybridmpc/core/qp"
	"github.com/enerflow/hybridmpc/core/runlog"
	"github.com/enerflow/hybridmpc/emulator"
)

// Phase is the runner's coarse state, exposed for observability.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTierDue
	PhaseStepping
	PhaseFaulted
	PhaseDone
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTierDue:
		return "tier_due"
	case PhaseStepping:
		return "stepping"
	case PhaseFaulted:
		return "faulted"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// CyclePublisher ships cycle records to an external consumer. Implementations
// live under infra; the runner never depends on a concrete transport.
type CyclePublisher interface {
	PublishCycle(rec runlog.CycleRecord) error
}

// Config is the simulated-time window and tick of one run.
type Config struct {
	Start time.Time
	End   time.Time
	// Tick is the clock granularity, normally the fastest tier's step.
	Tick time.Duration
}

// Validate checks the run window.
func (c Config) Validate() error {
	if !c.End.After(c.Start) {
		return fmt.Errorf("runner: end %s must be after start %s", c.End, c.Start)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("runner: tick must be positive, got %s", c.Tick)
	}
	return nil
}

// Deps bundles everything the runner orchestrates. Tier1 through Tier3 are
// ordered slowest to fastest; Store and Log are mandatory, Sink, Bus and
// Publisher may be nil.
type Deps struct {
	Tier1, Tier2, Tier3 *mpc.Planner
	Coordinator         *mpc.Coordinator
	Feed                *forecast.Feed
	Emulators           []emulator.Emulator
	Store               runlog.Store
	Sink                metrics.Sink
	Publisher           CyclePublisher
	Bus                 Bus
	Log                 logger.Logger
}

// Bus receives every cycle record as it is produced.
type Bus interface {
	Publish(rec runlog.CycleRecord)
}

// Runner owns the single-threaded simulation loop. All state transitions
// happen on the Run goroutine; the loop is deterministic for a fixed config
// and feed.
type Runner struct {
	cfg   Config
	deps  Deps
	runID string

	phase  Phase
	now    time.Time
	states map[model.AssetID]model.AssetState
	acc    map[model.AssetID]time.Duration
	emus   map[model.AssetID]emulator.Emulator
}

// New validates the wiring and builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Tier1 == nil || deps.Tier2 == nil || deps.Tier3 == nil {
		return nil, fmt.Errorf("runner: all three tier planners are required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("runner: coordinator is required")
	}
	if deps.Feed == nil {
		return nil, fmt.Errorf("runner: forecast feed is required")
	}
	if err := deps.Feed.Validate(); err != nil {
		return nil, err
	}
	if len(deps.Emulators) == 0 {
		return nil, fmt.Errorf("runner: at least one emulator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("runner: runlog store is required")
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("runner: logger is required")
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	emus := make(map[model.AssetID]emulator.Emulator, len(deps.Emulators))
	acc := make(map[model.AssetID]time.Duration, len(deps.Emulators))
	for _, e := range deps.Emulators {
		if _, dup := emus[e.Asset()]; dup {
			return nil, fmt.Errorf("runner: duplicate emulator for asset %s", e.Asset())
		}
		emus[e.Asset()] = e
		acc[e.Asset()] = 0
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		runID:  uuid.NewString(),
		phase:  PhaseIdle,
		now:    cfg.Start,
		states: make(map[model.AssetID]model.AssetState),
		acc:    acc,
		emus:   emus,
	}, nil
}

// RunID returns the identifier stamped on every record of this run.
func (r *Runner) RunID() string { return r.runID }

// Phase returns the runner's current coarse state.
func (r *Runner) Phase() Phase { return r.phase }

// Now returns the simulated clock.
func (r *Runner) Now() time.Time { return r.now }

// States returns the latest achieved asset states.
func (r *Runner) States() map[model.AssetID]model.AssetState {
	out := make(map[model.AssetID]model.AssetState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Run executes the loop from Start to End. It returns early only on context
// cancellation or a storage failure.
func (r *Runner) Run(ctx context.Context) error {
	r.deps.Log.Infof("run %s starting: %s -> %s tick=%s", r.runID, r.cfg.Start, r.cfg.End, r.cfg.Tick)
	for r.now.Before(r.cfg.End) {
		select {
		case <-ctx.Done():
			r.phase = PhaseFaulted
			return ctx.Err()
		default:
		}

		r.phase = PhaseTierDue
		for _, p := range []*mpc.Planner{r.deps.Tier1, r.deps.Tier2, r.deps.Tier3} {
			if !p.Due(r.now, r.cfg.Start) {
				continue
			}
			if err := r.resolve(ctx, p); err != nil {
				r.phase = PhaseFaulted
				return err
			}
		}

		r.phase = PhaseStepping
		if err := r.step(); err != nil {
			r.phase = PhaseFaulted
			return err
		}
		r.now = r.now.Add(r.cfg.Tick)
	}
	r.phase = PhaseDone
	r.deps.Log.Infof("run %s finished at %s", r.runID, r.now)
	return nil
}

// resolve runs one tier cycle: cascade the inherited bounds, solve, and log
// the outcome. Non-optimal solves and forecast gaps degrade to the previous
// solution instead of stopping the run.
func (r *Runner) resolve(ctx context.Context, p *mpc.Planner) error {
	r.cascade(p)

	netLoad, err := r.netLoad(p)
	if err != nil {
		if errors.Is(err, forecast.ErrCoverage) {
			prev := p.Hold(r.now)
			r.deps.Log.Warnf("%s: forecast gap at %s, holding previous plan: %v", p.Name(), r.now, err)
			return r.record(ctx, p, prev, true, "forecast_coverage", 0)
		}
		return fmt.Errorf("%s: net load: %w", p.Name(), err)
	}
	caps, err := r.availability(p)
	if err != nil {
		if errors.Is(err, forecast.ErrCoverage) {
			prev := p.Hold(r.now)
			r.deps.Log.Warnf("%s: forecast gap at %s, holding previous plan: %v", p.Name(), r.now, err)
			return r.record(ctx, p, prev, true, "forecast_coverage", 0)
		}
		return fmt.Errorf("%s: availability: %w", p.Name(), err)
	}
	p.SetAvailability(caps)

	start := time.Now()
	sol, err := p.Resolve(r.now, netLoad, r.states)
	elapsed := time.Since(start)
	if err != nil {
		var solveErr *mpc.SolveError
		if errors.As(err, &solveErr) {
			r.deps.Log.Warnf("%s: degraded at %s: %v", p.Name(), r.now, err)
			return r.record(ctx, p, p.Current(), true, solveErr.Status.String(), elapsed)
		}
		var formErr *qp.FormulationError
		if errors.As(err, &formErr) {
			r.deps.Log.Warnf("%s: degraded at %s: %v", p.Name(), r.now, err)
			return r.record(ctx, p, p.Current(), true, "formulation", elapsed)
		}
		return err
	}
	return r.record(ctx, p, sol, false, "", elapsed)
}

// availability returns the per-step production caps for the forecast-driven
// assets this tier schedules. Solar must never be planned above the
// forecasted resource.
func (r *Runner) availability(p *mpc.Planner) (map[model.AssetID][]float64, error) {
	for _, id := range p.Controls() {
		if id != model.AssetSolar {
			continue
		}
		h := p.Horizon()
		solar, err := r.deps.Feed.Solar(r.now, h.Step, h.Steps)
		if err != nil {
			return nil, err
		}
		return map[model.AssetID][]float64{model.AssetSolar: solar}, nil
	}
	return nil, nil
}

// cascade installs the bounds the tier above committed. Tier-2 tracks
// Tier-1's plan as a penalized target; Tier-3 must keep the battery inside a
// strict band around Tier-2's trajectory.
func (r *Runner) cascade(p *mpc.Planner) {
	c := r.deps.Coordinator
	switch p {
	case r.deps.Tier2:
		if upper := r.deps.Tier1.Current(); upper != nil {
			p.SetInherited(c.SoftTargets(upper, p.Horizon(), r.now, p.Controls()))
		}
	case r.deps.Tier3:
		if upper := r.deps.Tier2.Current(); upper != nil {
			if band, ok := c.HardBand(upper, p.Horizon(), r.now, model.AssetBESS); ok {
				p.SetInherited(map[model.AssetID]model.Bound{model.AssetBESS: band})
			}
		}
	}
}

// netLoad computes the residual demand the tier must balance on its own
// grid. Each tier nets out what slower conversions already cover: the
// reference tier plans against raw demand, the correction tier against
// demand minus solar, and the fast tier against demand minus solar and the
// committed turbine plan.
func (r *Runner) netLoad(p *mpc.Planner) ([]float64, error) {
	h := p.Horizon()
	demand, err := r.deps.Feed.Demand.Window(r.now, h.Step, h.Steps)
	if err != nil {
		return nil, err
	}
	if p == r.deps.Tier1 {
		return demand, nil
	}
	solar, err := r.deps.Feed.Solar(r.now, h.Step, h.Steps)
	if err != nil {
		return nil, err
	}
	for k := range demand {
		demand[k] -= solar[k]
	}
	if p == r.deps.Tier2 {
		return demand, nil
	}
	turbine := r.turbinePlan(h)
	for k := range demand {
		demand[k] -= turbine[k]
	}
	return demand, nil
}

// turbinePlan returns the turbine power the fast tier should treat as given:
// the correction tier's committed trajectory where available, the last
// achieved power otherwise.
func (r *Runner) turbinePlan(h model.Horizon) []float64 {
	out := make([]float64, h.Steps)
	held := r.states[model.AssetTurbine].PowerKW
	upper := r.deps.Tier2.Current()
	for k := 0; k < h.Steps; k++ {
		out[k] = held
		if upper != nil {
			if v, ok := upper.At(model.AssetTurbine, r.now.Add(time.Duration(k)*h.Step)); ok {
				out[k] = v
			}
		}
	}
	return out
}

// record persists one cycle outcome and fans it out to the sink, bus and
// publisher. sol may be nil when a tier degrades before its first solve.
func (r *Runner) record(ctx context.Context, p *mpc.Planner, sol *model.Solution, degraded bool, reason string, elapsed time.Duration) error {
	rec := runlog.CycleRecord{
		RunID:     r.runID,
		Timestamp: r.now,
		Tier:      p.Name(),
		Setpoints: make(map[model.AssetID]float64),
		Degraded:  degraded,
		Reason:    reason,
		States:    r.States(),
	}
	status := "none"
	if sol != nil {
		rec.Objective = sol.Objective
		status = sol.Status.String()
		for _, sp := range sol.Setpoints {
			if v, ok := sol.At(sp.Asset, r.now); ok {
				rec.Setpoints[sp.Asset] = v
			} else {
				rec.Setpoints[sp.Asset] = sp.Leading()
			}
		}
	}
	if degraded && reason != "" {
		status = reason
	}
	rec.SolverStatus = status

	if err := r.deps.Store.Append(ctx, rec); err != nil {
		return fmt.Errorf("runlog append: %w", err)
	}
	if err := r.deps.Sink.RecordSolve([]metrics.SolveEvent{{
		Time:      r.now,
		Tier:      p.Name(),
		Status:    status,
		Objective: rec.Objective,
		Duration:  elapsed,
		Degraded:  degraded,
	}}); err != nil {
		r.deps.Log.Errorf("metrics solve record: %v", err)
	}
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(rec)
	}
	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.PublishCycle(rec); err != nil {
			r.deps.Log.Errorf("telemetry publish: %v", err)
		}
	}
	return nil
}

// noCurtailKW is the solar command used when no curtailment plan is active.
const noCurtailKW = 1e12

// commands derives the per-asset setpoints for the current tick. The battery
// follows the fast tier, the turbine the correction tier, and solar is capped
// by the reference tier's curtailment plan.
func (r *Runner) commands() map[model.AssetID]float64 {
	cmds := map[model.AssetID]float64{
		model.AssetBESS:    0,
		model.AssetTurbine: 0,
		model.AssetSolar:   noCurtailKW,
	}
	if sol := r.deps.Tier3.Current(); sol != nil {
		if v, ok := sol.At(model.AssetBESS, r.now); ok {
			cmds[model.AssetBESS] = v
		}
	} else if sol := r.deps.Tier2.Current(); sol != nil {
		if v, ok := sol.At(model.AssetBESS, r.now); ok {
			cmds[model.AssetBESS] = v
		}
	}
	if sol := r.deps.Tier2.Current(); sol != nil {
		if v, ok := sol.At(model.AssetTurbine, r.now); ok {
			cmds[model.AssetTurbine] = v
		}
	} else if sol := r.deps.Tier1.Current(); sol != nil {
		if v, ok := sol.At(model.AssetTurbine, r.now); ok {
			cmds[model.AssetTurbine] = v
		}
	}
	if sol := r.deps.Tier1.Current(); sol != nil {
		if v, ok := sol.At(model.AssetSolar, r.now); ok {
			cmds[model.AssetSolar] = v
		}
	}
	return cmds
}

// step advances each emulator by as many native ticks as the run tick has
// accumulated, then records the plant snapshot.
func (r *Runner) step() error {
	cmds := r.commands()
	for id, emu := range r.emus {
		r.acc[id] += r.cfg.Tick
		native := emu.Resolution()
		for r.acc[id] >= native {
			st := emu.Step(cmds[id], native)
			r.acc[id] -= native
			r.states[id] = st
			if st.Clamped {
				r.deps.Log.Debugf("%s: clamped setpoint %.2f kW -> %.2f kW at %s", id, cmds[id], st.PowerKW, r.now)
			}
		}
	}
	return r.snapshot()
}

// snapshot emits the per-tick plant metrics.
func (r *Runner) snapshot() error {
	demand, _ := r.deps.Feed.Demand.At(r.now)
	total := 0.0
	for _, st := range r.states {
		total += st.PowerKW
	}
	ev := metrics.CycleEvent{
		Time:        r.now,
		SoC:         r.states[model.AssetBESS].SoC,
		BessKW:      r.states[model.AssetBESS].PowerKW,
		TurbineKW:   r.states[model.AssetTurbine].PowerKW,
		SolarKW:     r.states[model.AssetSolar].PowerKW,
		DeviationKW: demand - total,
	}
	if err := r.deps.Sink.RecordCycle(ev); err != nil {
		r.deps.Log.Errorf("metrics cycle record: %v", err)
	}
	return nil
}
