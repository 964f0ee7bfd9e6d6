package metrics

import (
	coremetrics "github.com/enerflow/hybridmpc/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records control-loop events in Prometheus metrics.
type PromSink struct {
	solves   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	soc      prometheus.Gauge
	power    *prometheus.GaugeVec
}

// NewPromSink registers the control metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	solves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_solves_total",
		Help: "Total number of tier resolves by status",
	}, []string{"tier", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpc_solve_duration_seconds",
		Help:    "Wall time spent in one tier resolve",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})
	soc := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plant_bess_soc",
		Help: "BESS state of charge fraction",
	})
	power := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plant_power_kw",
		Help: "Achieved power per asset in kW",
	}, []string{"asset"})

	if err := reg.Register(solves); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			solves = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(soc); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			soc = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(power); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			power = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{solves: solves, duration: duration, soc: soc, power: power}, nil
}

// RecordSolve increments the counter for each resolve.
func (s *PromSink) RecordSolve(events []coremetrics.SolveEvent) error {
	for _, ev := range events {
		s.solves.WithLabelValues(ev.Tier, ev.Status).Inc()
		s.duration.WithLabelValues(ev.Tier).Observe(ev.Duration.Seconds())
	}
	return nil
}

// RecordCycle updates the plant gauges.
func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	s.soc.Set(ev.SoC)
	s.power.WithLabelValues("bess").Set(ev.BessKW)
	s.power.WithLabelValues("turbine").Set(ev.TurbineKW)
	s.power.WithLabelValues("solar").Set(ev.SolarKW)
	s.power.WithLabelValues("deviation").Set(ev.DeviationKW)
	return nil
}

// Close is a no-op for the Prometheus sink.
func (s *PromSink) Close() error { return nil }
