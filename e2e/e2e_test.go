package e2e

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
	"github.com/enerflow/hybridmpc/core/revenue"
	"github.com/enerflow/hybridmpc/core/runlog"
	"github.com/enerflow/hybridmpc/core/runner"
	"github.com/enerflow/hybridmpc/emulator"
	"github.com/enerflow/hybridmpc/infra/logger"
)

var dayStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(t *testing.T, value float64, hours int) *forecast.Series {
	t.Helper()
	var pts []forecast.Point
	for m := 0; m <= hours*60; m += 15 {
		pts = append(pts, forecast.Point{Time: dayStart.Add(time.Duration(m) * time.Minute), Value: value})
	}
	s, err := forecast.NewSeries(pts)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

// daySeries builds a plant day: constant 150 kW demand and a midday solar
// bump, extended past the day so the slow tier's horizon stays covered.
func daySeries(t *testing.T) (*forecast.Series, *forecast.Series) {
	t.Helper()
	var demand, solar []forecast.Point
	for m := 0; m <= 48*60; m += 15 {
		ts := dayStart.Add(time.Duration(m) * time.Minute)
		demand = append(demand, forecast.Point{Time: ts, Value: 150})

		h := float64(m%1440) / 60
		v := 0.0
		if h >= 6 && h <= 20 {
			v = 120 * math.Sin((h-6)/14*math.Pi)
		}
		solar = append(solar, forecast.Point{Time: ts, Value: v})
	}
	d, err := forecast.NewSeries(demand)
	if err != nil {
		t.Fatalf("demand series: %v", err)
	}
	s, err := forecast.NewSeries(solar)
	if err != nil {
		t.Fatalf("solar series: %v", err)
	}
	return d, s
}

type plantRun struct {
	runner *runner.Runner
	tiers  [3]*mpc.Planner
	store  runlog.Store
}

// newPlantRun wires a one-day simulation: three tiers at their production
// cadences, a 400 kWh battery, a curtailable solar field and a hydro turbine.
func newPlantRun(t *testing.T, demand, solar *forecast.Series, provider qp.CoefficientProvider, t1Steps, t2Steps int) *plantRun {
	t.Helper()
	feed := &forecast.Feed{Demand: demand, SolarForecast: solar}

	bess := qp.AssetSpec{
		ID: model.AssetBESS, MinKW: -50, MaxKW: 50,
		Storage: true, CapacityKWh: 400, SoC: 0.5, SoCMin: 0.1, SoCMax: 0.9, TerminalSoC: 0.5,
	}
	turbine := qp.AssetSpec{ID: model.AssetTurbine, MinKW: 0, MaxKW: 300}
	solarSpec := qp.AssetSpec{ID: model.AssetSolar, MinKW: 0, MaxKW: 150}

	mk := func(name string, h model.Horizon, assets []qp.AssetSpec) *mpc.Planner {
		p, err := mpc.NewPlanner(name, h, assets, provider, nil, logger.NopLogger{})
		if err != nil {
			t.Fatalf("planner %s: %v", name, err)
		}
		return p
	}
	tier1 := mk("tier1",
		model.Horizon{Step: 15 * time.Minute, Steps: t1Steps, ResolveEvery: time.Hour},
		[]qp.AssetSpec{solarSpec, turbine, bess})
	tier2 := mk("tier2",
		model.Horizon{Step: 5 * time.Minute, Steps: t2Steps, ResolveEvery: 15 * time.Minute},
		[]qp.AssetSpec{turbine, bess})
	tier3 := mk("tier3",
		model.Horizon{Step: time.Minute, Steps: 15, ResolveEvery: time.Minute},
		[]qp.AssetSpec{bess})

	coord, err := mpc.NewCoordinator(1.0, 10)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	store, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "cycles.log"))
	if err != nil {
		t.Fatalf("NewJSONLStore: %v", err)
	}

	emus := []emulator.Emulator{
		emulator.NewBESS(emulator.BESSConfig{
			CapacityKWh: 400, SoCInit: 0.5, SoCMin: 0.1, SoCMax: 0.9,
			ChargeMaxKW: 50, DischargeMaxKW: 50, EtaCharge: 0.95, EtaDischarge: 0.95,
			Resolution: time.Minute,
		}, dayStart),
		emulator.NewSolar(solar, time.Minute, dayStart),
		emulator.NewTurbine(emulator.TurbineConfig{
			MinKW: 20, MaxKW: 300, RampKWPerMin: 50,
			StartupTime: 5 * time.Minute, ShutdownTime: 5 * time.Minute, StartupCost: 25,
			Resolution: time.Minute,
		}, dayStart),
	}

	r, err := runner.New(runner.Config{
		Start: dayStart,
		End:   dayStart.Add(24 * time.Hour),
		Tick:  time.Minute,
	}, runner.Deps{
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
		t.Fatalf("runner.New: %v", err)
	}
	return &plantRun{runner: r, tiers: [3]*mpc.Planner{tier1, tier2, tier3}, store: store}
}

func TestFullDayDispatch(t *testing.T) {
	if testing.Short() {
		t.Skip("full-day scenario is long")
	}

	demand, solar := daySeries(t)
	provider := revenue.NewProvider(qp.Weights{Track: 100, Effort: 0.01, Smooth: 0.1, TerminalSoC: 10}, "fit-v1")
	run := newPlantRun(t, demand, solar, provider, 96, 72)

	if err := run.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.runner.Phase() != runner.PhaseDone {
		t.Fatalf("phase = %s", run.runner.Phase())
	}

	// cadence: floor(24h / resolve interval) per tier, starting at t=0
	if got := run.tiers[0].Solves(); got != 24 {
		t.Fatalf("tier1 solves = %d, want 24", got)
	}
	if got := run.tiers[1].Solves(); got != 96 {
		t.Fatalf("tier2 solves = %d, want 96", got)
	}
	if got := run.tiers[2].Solves(); got != 1440 {
		t.Fatalf("tier3 solves = %d, want 1440", got)
	}

	// battery stays inside its window all day and lands near its terminal
	recs, err := run.store.Query(context.Background(), runlog.Query{Tier: "tier3"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, rec := range recs {
		if st, ok := rec.States[model.AssetBESS]; ok {
			if st.SoC < 0.1-1e-9 || st.SoC > 0.9+1e-9 {
				t.Fatalf("soc %v outside window at %s", st.SoC, rec.Timestamp)
			}
		}
	}
	final := run.runner.States()[model.AssetBESS]
	if math.Abs(final.SoC-0.5) > 0.1 {
		t.Fatalf("final soc = %v, want near 0.5", final.SoC)
	}
}

func TestFlatDayZeroNetBessEnergy(t *testing.T) {
	if testing.Short() {
		t.Skip("full-day scenario is long")
	}

	// constant demand and irradiance over the whole 2-day reference horizon:
	// with nothing to react to, the battery must not move energy around
	demand := flatSeries(t, 150, 72)
	solar := flatSeries(t, 60, 72)
	provider := qp.StaticProvider{W: qp.Weights{Track: 100, Effort: 0.01, Smooth: 0.1, TerminalSoC: 10}, Ver: "static-v1"}
	run := newPlantRun(t, demand, solar, provider, 192, 288)

	if err := run.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.runner.Phase() != runner.PhaseDone {
		t.Fatalf("phase = %s", run.runner.Phase())
	}

	recs, err := run.store.Query(context.Background(), runlog.Query{Tier: "tier3"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1440 {
		t.Fatalf("tier3 records = %d, want 1440", len(recs))
	}

	hourly := make([]float64, 24)
	for _, rec := range recs {
		cmd := rec.Setpoints[model.AssetBESS]
		if cmd < -50-1e-6 || cmd > 50+1e-6 {
			t.Fatalf("bess command %v outside [-50, 50] at %s", cmd, rec.Timestamp)
		}
		hourly[rec.Timestamp.Sub(dayStart)/time.Hour] += cmd / 60
	}
	for h, kwh := range hourly {
		if math.Abs(kwh) > 0.5 {
			t.Fatalf("hour %d: net bess energy = %.3f kWh, want ~0", h, kwh)
		}
	}
}
