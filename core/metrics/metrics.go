// Package metrics defines the sink interface run instrumentation is written
// through. Implementations live under infra/metrics; the control loop never
// depends on a concrete backend.
package metrics

import "time"

// SolveEvent describes one tier resolve.
type SolveEvent struct {
	Time       time.Time
	Tier       string
	Status     string
	Objective  float64
	Duration   time.Duration
	Iterations int
	Degraded   bool
}

// CycleEvent is a per-cycle snapshot of the plant.
type CycleEvent struct {
	Time        time.Time
	SoC         float64
	BessKW      float64
	TurbineKW   float64
	SolarKW     float64
	DeviationKW float64
}

// Sink records solve and cycle events.
type Sink interface {
	RecordSolve(events []SolveEvent) error
	RecordCycle(ev CycleEvent) error
	Close() error
}

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`

	InfluxEnabled bool   `json:"influx_enabled"`
	InfluxURL     string `json:"influx_url"`
	InfluxToken   string `json:"influx_token"`
	InfluxOrg     string `json:"influx_org"`
	InfluxBucket  string `json:"influx_bucket"`
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordSolve([]SolveEvent) error { return nil }
func (NopSink) RecordCycle(CycleEvent) error   { return nil }
func (NopSink) Close() error                   { return nil }
