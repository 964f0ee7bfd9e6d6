// Package runlog persists the append-only record stream of a simulation run:
// one record per tier per control cycle.
package runlog

import (
	"context"
	"time"

	"github.com/enerflow/hybridmpc/core/model"
)

// CycleRecord captures one tier's outcome within one control cycle.
type CycleRecord struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Tier      string    `json:"tier"`

	// Setpoints are the leading-step commands issued this cycle, keyed by
	// asset.
	Setpoints map[model.AssetID]float64 `json:"setpoints"`

	Objective    float64 `json:"objective"`
	SolverStatus string  `json:"solver_status"`

	// Degraded marks a cycle where the tier held its previous setpoint
	// because the resolve failed.
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// States are the achieved asset states after stepping the emulators.
	States map[model.AssetID]model.AssetState `json:"states"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start    time.Time
	End      time.Time
	Tier     string
	Degraded *bool
}

func (q Query) matches(r CycleRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Tier != "" && r.Tier != q.Tier {
		return false
	}
	if q.Degraded != nil && r.Degraded != *q.Degraded {
		return false
	}
	return true
}

// Store persists cycle records.
type Store interface {
	Append(ctx context.Context, rec CycleRecord) error
	Query(ctx context.Context, q Query) ([]CycleRecord, error)
	Close() error
}
