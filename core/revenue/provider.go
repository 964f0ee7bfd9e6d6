package revenue

import (
	"time"

	"github.com/enerflow/hybridmpc/core/qp"
)

// Provider is a revenue-aware coefficient provider: it keeps a base weight
// set and scales the tracking weight by the penalty exposure of each
// settlement block, so deviations are charged hardest where they also cost
// penalty money.
type Provider struct {
	base qp.Weights
	ver  string
}

// NewProvider wraps base weights with tariff-aware tracking scales.
func NewProvider(base qp.Weights, version string) *Provider {
	return &Provider{base: base, ver: version}
}

func (p *Provider) Version() string { return p.ver }

func (p *Provider) Weights() qp.Weights { return p.base }

// TrackScale weights an instant by its block's penalty exposure. A shortfall
// costs the lost payment plus PenaltyRate of the tariff, adjusted blocks
// proportionally less.
func (p *Provider) TrackScale(ts time.Time) float64 {
	block := ts.Truncate(BlockLength)
	_, adjusted, err := DetectWindow(block)
	if err != nil {
		return 1
	}
	if adjusted {
		return 1 + PenaltyRate*AdjustFactor
	}
	return 1 + PenaltyRate
}
