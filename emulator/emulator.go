// Package emulator provides the black-box asset steppers the runner drives.
// Each emulator owns its asset's physical state, advances only on its native
// tick boundary, and clamps commanded setpoints to its physical envelope
// instead of failing: the clamped achieved state is reported back.
package emulator

import (
	"time"

	"github.com/enerflow/hybridmpc/core/model"
)

// Emulator is the per-asset step interface consumed by the runner.
type Emulator interface {
	// Asset identifies which plant asset this emulator models.
	Asset() model.AssetID
	// Resolution is the native tick length the emulator advances at.
	Resolution() time.Duration
	// Step applies the commanded setpoint over dt and returns the achieved
	// state. dt is always a multiple of Resolution accumulated by the runner.
	Step(setpointKW float64, dt time.Duration) model.AssetState
}
