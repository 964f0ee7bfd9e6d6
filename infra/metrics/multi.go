package metrics

import coremetrics "github.com/enerflow/hybridmpc/core/metrics"

// MultiSink fans out solve and cycle events to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSolve forwards the events to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSolve(evs []coremetrics.SolveEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordSolve(evs); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle forwards the plant snapshot to all sinks.
func (m *MultiSink) RecordCycle(ev coremetrics.CycleEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCycle(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, returning the first error encountered.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
