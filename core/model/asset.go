package model

import "time"

// AssetID identifies a controllable or measured plant asset.
type AssetID string

const (
	AssetSolar   AssetID = "solar"
	AssetBESS    AssetID = "bess"
	AssetTurbine AssetID = "turbine"
)

// AssetState is the last reported snapshot of one asset. It is owned by the
// asset's emulator; the controller only holds the copy returned by the most
// recent step.
type AssetState struct {
	Asset     AssetID   `json:"asset"`
	Timestamp time.Time `json:"timestamp"`

	// PowerKW is the achieved AC-side power. Positive means injection to the
	// grid, negative means consumption (BESS charging).
	PowerKW float64 `json:"power_kw"`

	// SoC is the BESS state of charge as a fraction of capacity.
	SoC float64 `json:"soc,omitempty"`

	// AvailableKW is the irradiance-derived power a solar unit could deliver
	// before curtailment.
	AvailableKW float64 `json:"available_kw,omitempty"`

	// Running reports whether a turbine unit is producing (out of its
	// start/shutdown sequence).
	Running bool `json:"running,omitempty"`

	// Clamped is set when the emulator had to limit the commanded setpoint to
	// stay within its physical envelope.
	Clamped bool `json:"clamped,omitempty"`
}

// AssetLimits holds the configured physical envelope of one asset.
type AssetLimits struct {
	MinKW        float64
	MaxKW        float64
	RampKWPerMin float64

	// Storage-only fields.
	CapacityKWh float64
	SoCMin      float64
	SoCMax      float64
	EtaCharge   float64
	EtaDischarge float64
}
