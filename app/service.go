// Package app assembles the plant dispatcher from its configuration: the
// forecast feed, the three tier planners, the asset emulators, the cycle log
// store and the telemetry sinks.
package app

import (
	"context"
	"fmt"

	"github.com/enerflow/hybridmpc/config"
	"github.com/enerflow/hybridmpc/core/forecast"
	coremetrics "github.com/enerflow/hybridmpc/core/metrics"
	"github.com/enerflow/hybridmpc/core/model"
	"github.com/enerflow/hybridmpc/core/mpc"
	"github.com/enerflow/hybridmpc/core/qp"
	"github.com/enerflow/hybridmpc/core/revenue"
	"github.com/enerflow/hybridmpc/core/runlog"
	"github.com/enerflow/hybridmpc/core/runner"
	"github.com/enerflow/hybridmpc/emulator"
	"github.com/enerflow/hybridmpc/infra/logger"
	"github.com/enerflow/hybridmpc/infra/metrics"
	"github.com/enerflow/hybridmpc/infra/mqtt"
	"github.com/enerflow/hybridmpc/internal/eventbus"
)

// Service owns the wired runner and the resources it dispatches through.
type Service struct {
	Runner *runner.Runner
	Bus    *eventbus.Bus[runlog.CycleRecord]

	store     runlog.Store
	sink      coremetrics.Sink
	publisher mqtt.Publisher
	log       logger.Logger

	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	start, end, err := cfg.Run.Window()
	if err != nil {
		return nil, err
	}
	tick, err := cfg.Run.TickDuration()
	if err != nil {
		return nil, err
	}

	feed, err := loadFeed(cfg.Forecast)
	if err != nil {
		return nil, err
	}

	var provider qp.CoefficientProvider
	if cfg.Weights.RevenueAware {
		provider = revenue.NewProvider(cfg.Weights.QP(), "fit-v1")
	} else {
		provider = qp.StaticProvider{W: cfg.Weights.QP(), Ver: "static-v1"}
	}

	tiers, err := buildPlanners(cfg, provider, logg)
	if err != nil {
		return nil, err
	}

	coord, err := mpc.NewCoordinator(cfg.Weights.SoftPenalty, cfg.Weights.BandWidthKW)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Logging)
	if err != nil {
		return nil, err
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	if cfg.Telemetry.Enabled {
		p, err := mqtt.NewPahoPublisher(cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		publisher = p
	}

	solarProfile, err := forecast.LoadSeries(cfg.Forecast.SolarProfilePath)
	if err != nil {
		return nil, err
	}
	solarRes, _ := cfg.Assets.Solar.ResolutionDuration()
	emus := []emulator.Emulator{
		cfg.Assets.BESS.Emulator(start),
		emulator.NewSolar(solarProfile, solarRes, start),
		cfg.Assets.Turbine.Emulator(start),
	}

	bus := eventbus.New[runlog.CycleRecord]()

	run, err := runner.New(runner.Config{Start: start, End: end, Tick: tick}, runner.Deps{
		Tier1:       tiers[0],
		Tier2:       tiers[1],
		Tier3:       tiers[2],
		Coordinator: coord,
		Feed:        feed,
		Emulators:   emus,
		Store:       store,
		Sink:        sink,
		Publisher:   publisher,
		Bus:         bus,
		Log:         logger.New("runner"),
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		Runner:      run,
		Bus:         bus,
		store:       store,
		sink:        sink,
		publisher:   publisher,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}, nil
}

// loadFeed reads the exogenous series from disk.
func loadFeed(cfg config.ForecastConfig) (*forecast.Feed, error) {
	demand, err := forecast.LoadSeries(cfg.DemandPath)
	if err != nil {
		return nil, err
	}
	solarFC, err := forecast.LoadSeries(cfg.SolarForecastPath)
	if err != nil {
		return nil, err
	}
	feed := &forecast.Feed{Demand: demand, SolarForecast: solarFC}
	if cfg.SolarActualPath != "" {
		actual, err := forecast.LoadSeries(cfg.SolarActualPath)
		if err != nil {
			return nil, err
		}
		feed.SolarActual = actual
	}
	return feed, nil
}

// buildPlanners constructs the three tiers. The reference tier plans all
// assets, the correction tier turbine and battery, the fast tier battery
// only.
func buildPlanners(cfg *config.Config, provider qp.CoefficientProvider, logg logger.Logger) ([3]*mpc.Planner, error) {
	var out [3]*mpc.Planner
	specs := assetSpecs(cfg)

	defs := []struct {
		name    string
		tier    config.TierConfig
		control []model.AssetID
	}{
		{"tier1", cfg.Tiers.Tier1, []model.AssetID{model.AssetSolar, model.AssetTurbine, model.AssetBESS}},
		{"tier2", cfg.Tiers.Tier2, []model.AssetID{model.AssetTurbine, model.AssetBESS}},
		{"tier3", cfg.Tiers.Tier3, []model.AssetID{model.AssetBESS}},
	}
	for i, d := range defs {
		h, err := d.tier.Horizon()
		if err != nil {
			return out, fmt.Errorf("%s: %w", d.name, err)
		}
		assets := make([]qp.AssetSpec, 0, len(d.control))
		for _, id := range d.control {
			spec := specs[id]
			if spec.RampKWPerStep != 0 {
				spec.RampKWPerStep *= h.Step.Minutes()
			}
			assets = append(assets, spec)
		}
		p, err := mpc.NewPlanner(d.name, h, assets, provider, nil, logger.New(d.name))
		if err != nil {
			return out, err
		}
		out[i] = p
	}
	return out, nil
}

// assetSpecs maps the configured asset envelopes into formulation specs.
// RampKWPerStep carries the per-minute rate here; the per-tier step scaling
// happens in buildPlanners.
func assetSpecs(cfg *config.Config) map[model.AssetID]qp.AssetSpec {
	b := cfg.Assets.BESS
	return map[model.AssetID]qp.AssetSpec{
		model.AssetBESS: {
			ID:            model.AssetBESS,
			MinKW:         -b.ChargeMaxKW,
			MaxKW:         b.DischargeMaxKW,
			RampKWPerStep: b.RampKWPerMin,
			Storage:       true,
			CapacityKWh:   b.CapacityKWh,
			SoC:           b.SoCInit,
			SoCMin:        b.SoCMin,
			SoCMax:        b.SoCMax,
			TerminalSoC:   b.SoCTerminal,
		},
		model.AssetSolar: {
			ID:    model.AssetSolar,
			MinKW: 0,
			MaxKW: cfg.Assets.Solar.PeakKW,
		},
		model.AssetTurbine: {
			ID:            model.AssetTurbine,
			MinKW:         0,
			MaxKW:         cfg.Assets.Turbine.MaxKW,
			RampKWPerStep: cfg.Assets.Turbine.RampKWPerMin,
		},
	}
}

// openStore builds the configured cycle log backend.
func openStore(cfg config.LoggingConfig) (runlog.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return runlog.NewSQLiteStore(cfg.Path)
	default:
		if cfg.MaxSizeMB > 0 {
			return runlog.NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		}
		return runlog.NewJSONLStore(cfg.Path)
	}
}

// Run executes the simulation and blocks until it finishes or the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return s.Runner.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Bus.Close()
	s.publisher.Close()
	if err := s.sink.Close(); err != nil {
		s.log.Errorf("sink close: %v", err)
	}
	return s.store.Close()
}
