package runner

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/enerflow/hybridmpc/core/forecast"
	"github.com/enerflow/hybridmpc/core/model"
	"github.com/enerflow/hybridmpc/core/mpc"
	"github.com/enerflow/hybridmpc/core/qp"
	"github.com/enerflow/hybridmpc/core/runlog"
	"github.com/enerflow/hybridmpc/emulator"
	"github.com/enerflow/hybridmpc/infra/logger"
)

var simStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(t *testing.T, value float64, minutes int) *forecast.Series {
	t.Helper()
	pts := make([]forecast.Point, minutes+1)
	for i := range pts {
		pts[i] = forecast.Point{Time: simStart.Add(time.Duration(i) * time.Minute), Value: value}
	}
	s, err := forecast.NewSeries(pts)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func bessSpec() qp.AssetSpec {
	return qp.AssetSpec{
		ID: model.AssetBESS, MinKW: -50, MaxKW: 50,
		Storage: true, CapacityKWh: 500, SoC: 0.5, SoCMin: 0.1, SoCMax: 0.9, TerminalSoC: 0.5,
	}
}

func turbineSpec() qp.AssetSpec {
	return qp.AssetSpec{ID: model.AssetTurbine, MinKW: 0, MaxKW: 300}
}

func solarSpec() qp.AssetSpec {
	return qp.AssetSpec{ID: model.AssetSolar, MinKW: 0, MaxKW: 50}
}

type testRig struct {
	runner *Runner
	tiers  [3]*mpc.Planner
	store  runlog.Store
}

// rigOpts lets individual tests swap the fast tier's solver or weights.
type rigOpts struct {
	tier3Solver   mpc.Solver
	tier3Provider qp.CoefficientProvider
}

func newRig(t *testing.T, feed *forecast.Feed, runMinutes int) *testRig {
	return newRigOpts(t, feed, runMinutes, rigOpts{})
}

func newRigOpts(t *testing.T, feed *forecast.Feed, runMinutes int, opts rigOpts) *testRig {
	t.Helper()
	provider := qp.StaticProvider{W: qp.Weights{Track: 100, Effort: 0.01, Smooth: 0.1, TerminalSoC: 1}, Ver: "test"}

	mk := func(name string, h model.Horizon, assets []qp.AssetSpec, solver mpc.Solver, prov qp.CoefficientProvider) *mpc.Planner {
		if prov == nil {
			prov = provider
		}
		p, err := mpc.NewPlanner(name, h, assets, prov, solver, logger.NopLogger{})
		if err != nil {
			t.Fatalf("planner %s: %v", name, err)
		}
		return p
	}
	tier1 := mk("tier1",
		model.Horizon{Step: 5 * time.Minute, Steps: 6, ResolveEvery: 10 * time.Minute},
		[]qp.AssetSpec{solarSpec(), turbineSpec(), bessSpec()}, nil, nil)
	tier2 := mk("tier2",
		model.Horizon{Step: 2 * time.Minute, Steps: 6, ResolveEvery: 6 * time.Minute},
		[]qp.AssetSpec{turbineSpec(), bessSpec()}, nil, nil)
	tier3 := mk("tier3",
		model.Horizon{Step: time.Minute, Steps: 5, ResolveEvery: time.Minute},
		[]qp.AssetSpec{bessSpec()}, opts.tier3Solver, opts.tier3Provider)

	coord, err := mpc.NewCoordinator(1.0, 10)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	store, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "cycles.log"))
	if err != nil {
		t.Fatalf("NewJSONLStore: %v", err)
	}

	solarProfile := flatSeries(t, 20, 120)
	emus := []emulator.Emulator{
		emulator.NewBESS(emulator.BESSConfig{
			CapacityKWh: 500, SoCInit: 0.5, SoCMin: 0.1, SoCMax: 0.9,
			ChargeMaxKW: 50, DischargeMaxKW: 50, EtaCharge: 1, EtaDischarge: 1,
			Resolution: time.Minute,
		}, simStart),
		emulator.NewSolar(solarProfile, time.Minute, simStart),
		emulator.NewTurbine(emulator.TurbineConfig{
			MinKW: 10, MaxKW: 300, RampKWPerMin: 100,
			StartupTime: time.Minute, ShutdownTime: time.Minute,
			Resolution: time.Minute,
		}, simStart),
	}

	r, err := New(Config{
		Start: simStart,
		End:   simStart.Add(time.Duration(runMinutes) * time.Minute),
		Tick:  time.Minute,
	}, Deps{
		Tier1:       tier1,
		Tier2:       tier2,
		Tier3:       tier3,
		Coordinator: coord,
		Feed:        feed,
		Emulators:   emus,
		Store:       store,
		Log:         logger.NopLogger{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testRig{runner: r, tiers: [3]*mpc.Planner{tier1, tier2, tier3}, store: store}
}

func fullFeed(t *testing.T) *forecast.Feed {
	return &forecast.Feed{
		Demand:        flatSeries(t, 100, 120),
		SolarForecast: flatSeries(t, 20, 120),
	}
}

func TestRunnerSolveCadence(t *testing.T) {
	rig := newRig(t, fullFeed(t), 30)
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rig.runner.Phase() != PhaseDone {
		t.Fatalf("phase = %s, want done", rig.runner.Phase())
	}
	// one resolve at the run start, then at every interval multiple inside
	// the run: floor(30m / interval) per tier
	if got := rig.tiers[0].Solves(); got != 3 {
		t.Fatalf("tier1 solves = %d, want 3", got)
	}
	if got := rig.tiers[1].Solves(); got != 5 {
		t.Fatalf("tier2 solves = %d, want 5", got)
	}
	if got := rig.tiers[2].Solves(); got != 30 {
		t.Fatalf("tier3 solves = %d, want 30", got)
	}

	recs, err := rig.store.Query(context.Background(), runlog.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 3+5+30 {
		t.Fatalf("records = %d, want 38", len(recs))
	}
	first, err := rig.store.Query(context.Background(), runlog.Query{Tier: "tier3", End: simStart})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first) != 1 || !first[0].Timestamp.Equal(simStart) {
		t.Fatalf("want one tier3 record at the run start, got %d", len(first))
	}
	for _, rec := range recs {
		if rec.Degraded {
			t.Fatalf("unexpected degraded record: %+v", rec)
		}
		if rec.SolverStatus != "optimal" {
			t.Fatalf("status = %q, want optimal", rec.SolverStatus)
		}
	}
}

func TestRunnerBandContainment(t *testing.T) {
	rig := newRig(t, fullFeed(t), 30)
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	upper := rig.tiers[1].Current()
	fast := rig.tiers[2].Current()
	if upper == nil || fast == nil {
		t.Fatal("both tiers must have solved")
	}
	traj := fast.Trajectory(model.AssetBESS)
	for k, v := range traj {
		ts := fast.Start.Add(time.Duration(k) * fast.Step)
		center, ok := upper.At(model.AssetBESS, ts)
		if !ok {
			center = upper.Trajectory(model.AssetBESS)[len(upper.Trajectory(model.AssetBESS))-1]
		}
		if v < center-10-1e-6 || v > center+10+1e-6 {
			t.Fatalf("step %d: %v outside band around %v", k, v, center)
		}
	}
}

func TestRunnerDeterministic(t *testing.T) {
	collect := func() []map[model.AssetID]float64 {
		rig := newRig(t, fullFeed(t), 20)
		if err := rig.runner.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		recs, err := rig.store.Query(context.Background(), runlog.Query{})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		out := make([]map[model.AssetID]float64, len(recs))
		for i, rec := range recs {
			out[i] = rec.Setpoints
		}
		return out
	}
	a := collect()
	b := collect()
	if len(a) != len(b) {
		t.Fatalf("record counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		for id, v := range a[i] {
			if w, ok := b[i][id]; !ok || math.Abs(v-w) > 0 {
				t.Fatalf("record %d asset %s differs: %v vs %v", i, id, v, b[i][id])
			}
		}
	}
}

func TestRunnerForecastGapDegrades(t *testing.T) {
	// Demand covers 25 minutes; the reference tier needs 30 from its resolve
	// instant and must hold, while the faster tiers keep dispatching.
	feed := &forecast.Feed{
		Demand:        flatSeries(t, 100, 25),
		SolarForecast: flatSeries(t, 20, 25),
	}
	rig := newRig(t, feed, 12)
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rig.runner.Phase() != PhaseDone {
		t.Fatalf("phase = %s, want done", rig.runner.Phase())
	}

	deg := true
	degraded, err := rig.store.Query(context.Background(), runlog.Query{Degraded: &deg})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// tier1 resolves at t=0 and t=10, both beyond coverage
	if len(degraded) != 2 {
		t.Fatalf("degraded records = %d, want 2", len(degraded))
	}
	for _, rec := range degraded {
		if rec.Tier != "tier1" {
			t.Fatalf("unexpected degraded tier %q", rec.Tier)
		}
		if rec.Reason != "forecast_coverage" {
			t.Fatalf("reason = %q", rec.Reason)
		}
	}

	healthy, err := rig.store.Query(context.Background(), runlog.Query{Tier: "tier3"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, rec := range healthy {
		if rec.Degraded {
			t.Fatalf("tier3 must not degrade: %+v", rec)
		}
	}
}

func TestRunnerContextCancel(t *testing.T) {
	rig := newRig(t, fullFeed(t), 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rig.runner.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if rig.runner.Phase() != PhaseFaulted {
		t.Fatalf("phase = %s, want faulted", rig.runner.Phase())
	}
}

func TestRunnerSolarCappedByForecast(t *testing.T) {
	// with zero forecasted irradiance the reference tier must not schedule
	// any solar power, whatever the panel's nameplate rating
	feed := &forecast.Feed{
		Demand:        flatSeries(t, 100, 120),
		SolarForecast: flatSeries(t, 0, 120),
	}
	rig := newRig(t, feed, 11)
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sol := rig.tiers[0].Current()
	if sol == nil {
		t.Fatal("tier1 never solved")
	}
	for k, v := range sol.Trajectory(model.AssetSolar) {
		if math.Abs(v) > 1e-6 {
			t.Fatalf("step %d: planned %v kW of solar with a zero forecast", k, v)
		}
	}

	recs, err := rig.store.Query(context.Background(), runlog.Query{Tier: "tier1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, rec := range recs {
		if v := rec.Setpoints[model.AssetSolar]; math.Abs(v) > 1e-6 {
			t.Fatalf("record at %s: solar setpoint = %v, want 0", rec.Timestamp, v)
		}
	}
}

func TestRunnerFormulationFailureDegrades(t *testing.T) {
	// a fast tier whose weights cannot form a QP must hold and keep the run
	// alive, not abort it
	bad := qp.StaticProvider{W: qp.Weights{Track: 0, Effort: 0.01}, Ver: "bad"}
	rig := newRigOpts(t, fullFeed(t), 5, rigOpts{tier3Provider: bad})
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rig.runner.Phase() != PhaseDone {
		t.Fatalf("phase = %s, want done", rig.runner.Phase())
	}

	recs, err := rig.store.Query(context.Background(), runlog.Query{Tier: "tier3"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("tier3 records = %d, want 5", len(recs))
	}
	for _, rec := range recs {
		if !rec.Degraded || rec.Reason != "formulation" {
			t.Fatalf("record at %s: degraded=%v reason=%q", rec.Timestamp, rec.Degraded, rec.Reason)
		}
	}
	healthy, err := rig.store.Query(context.Background(), runlog.Query{Tier: "tier2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, rec := range healthy {
		if rec.Degraded {
			t.Fatalf("tier2 must not degrade: %+v", rec)
		}
	}
}

// faultySolver forwards to the real solver except for one chosen call, which
// reports infeasibility.
type faultySolver struct {
	inner  mpc.Solver
	calls  int
	failAt int
}

func (s *faultySolver) Solve(p *qp.Problem, warm []float64) qp.Result {
	s.calls++
	if s.calls == s.failAt {
		return qp.Result{Status: model.StatusInfeasible}
	}
	return s.inner.Solve(p, warm)
}

func TestRunnerInfeasibleSolveHoldsSetpoint(t *testing.T) {
	// fail the fast tier's last solve: the runner must finish the run and
	// reissue the held plan's setpoint for that tick
	fs := &faultySolver{inner: qp.NewSolver(), failAt: 10}
	rig := newRigOpts(t, fullFeed(t), 10, rigOpts{tier3Solver: fs})
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rig.runner.Phase() != PhaseDone {
		t.Fatalf("phase = %s, want done", rig.runner.Phase())
	}

	deg := true
	degraded, err := rig.store.Query(context.Background(), runlog.Query{Degraded: &deg})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(degraded) != 1 {
		t.Fatalf("degraded records = %d, want 1", len(degraded))
	}
	rec := degraded[0]
	if rec.Tier != "tier3" || rec.Reason != "infeasible" {
		t.Fatalf("tier=%q reason=%q", rec.Tier, rec.Reason)
	}

	// the active plan is still the one solved the tick before
	held := rig.tiers[2].Current()
	if held == nil {
		t.Fatal("tier3 lost its plan")
	}
	if !held.Start.Equal(simStart.Add(8 * time.Minute)) {
		t.Fatalf("held plan starts at %s, want t+8m", held.Start)
	}
	want, ok := held.At(model.AssetBESS, rec.Timestamp)
	if !ok {
		t.Fatalf("held plan does not cover %s", rec.Timestamp)
	}
	if got := rec.Setpoints[model.AssetBESS]; math.Abs(got-want) > 1e-9 {
		t.Fatalf("degraded setpoint = %v, want held %v", got, want)
	}
}

func TestRunnerBessFollowsFastTier(t *testing.T) {
	rig := newRig(t, fullFeed(t), 10)
	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	states := rig.runner.States()
	bess, ok := states[model.AssetBESS]
	if !ok {
		t.Fatal("missing bess state")
	}
	if bess.SoC < 0.1 || bess.SoC > 0.9 {
		t.Fatalf("soc = %v outside configured window", bess.SoC)
	}
	if _, ok := states[model.AssetTurbine]; !ok {
		t.Fatal("missing turbine state")
	}
}
