package model

import (
	"fmt"
	"time"
)

// Horizon describes one MPC loop's discretization: the step length, the
// number of steps optimized ahead, and how often the loop re-solves.
type Horizon struct {
	Step         time.Duration
	Steps        int
	ResolveEvery time.Duration
}

// Span returns the total look-ahead covered by the horizon.
func (h Horizon) Span() time.Duration {
	return time.Duration(h.Steps) * h.Step
}

// Validate checks the structural invariants of the horizon.
func (h Horizon) Validate() error {
	if h.Step <= 0 {
		return fmt.Errorf("horizon step must be positive, got %v", h.Step)
	}
	if h.Steps < 1 {
		return fmt.Errorf("horizon must cover at least one step, got %d", h.Steps)
	}
	if h.ResolveEvery <= 0 {
		return fmt.Errorf("resolve interval must be positive, got %v", h.ResolveEvery)
	}
	if h.ResolveEvery%h.Step != 0 {
		return fmt.Errorf("resolve interval %v is not a multiple of step %v", h.ResolveEvery, h.Step)
	}
	return nil
}
