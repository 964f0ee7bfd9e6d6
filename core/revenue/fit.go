// Package revenue implements the feed-in-tariff payment rules the dispatch
// objective is tuned against: three tariff windows over the day, a 14/15
// energy adjustment on the blocks straddling window boundaries, and a 12%
// penalty on delivery shortfall. Intervals are 15-minute blocks aligned to
// :00/:15/:30/:45.
package revenue

import (
	"fmt"
	"time"
)

const (
	// AdjustFactor scales the metered energy of the special boundary blocks.
	AdjustFactor = 14.0 / 15.0
	// PenaltyRate is the shortfall penalty as a fraction of the tariff.
	PenaltyRate = 0.12

	// BlockLength is the settlement interval.
	BlockLength = 15 * time.Minute
)

// Window identifies the tariff window a block settles under.
type Window int

const (
	// Window1 is the contracted daytime window, 09:00-16:00.
	Window1 Window = iota + 1
	// Window2 is the overnight window, 18:00-06:00, settled against the
	// operator plan.
	Window2
	// Window3 covers the morning and evening shoulders.
	Window3
)

func (w Window) String() string {
	switch w {
	case Window1:
		return "daytime"
	case Window2:
		return "overnight"
	case Window3:
		return "shoulder"
	default:
		return "unknown"
	}
}

// DetectWindow classifies a 15-minute block by its start time and reports
// whether the 14/15 adjustment applies. Blocks starting at 06:00, 16:00 and
// 18:00 carry the adjustment because the tariff switches one minute into
// them.
func DetectWindow(ts time.Time) (Window, bool, error) {
	if ts.Minute()%15 != 0 || ts.Second() != 0 || ts.Nanosecond() != 0 {
		return 0, false, fmt.Errorf("timestamp %v is not aligned to a 15-minute block", ts)
	}
	m := ts.Hour()*60 + ts.Minute()
	switch {
	case m < 6*60:
		return Window2, false, nil
	case m == 6*60:
		return Window2, true, nil
	case m < 9*60:
		return Window3, false, nil
	case m < 16*60:
		return Window1, false, nil
	case m == 16*60:
		return Window1, true, nil
	case m < 18*60:
		return Window3, false, nil
	case m == 18*60:
		return Window2, true, nil
	default:
		return Window2, false, nil
	}
}

// Interval is the input for settling one 15-minute block.
type Interval struct {
	Start     time.Time
	EnergyKWh float64
	// Rate is the tariff in currency per kWh.
	Rate float64
	// ContractKWh is the contracted energy base used in the daytime window.
	ContractKWh float64
	// PlanKWh is the planned energy base used in the overnight window.
	PlanKWh float64
	// PlanCoversShoulder selects PlanKWh over ContractKWh as the shoulder
	// window base.
	PlanCoversShoulder bool
}

// Settlement is the computed payment for one block.
type Settlement struct {
	Window       Window
	Adjusted     bool
	UsedKWh      float64
	BaseKWh      float64
	PayableKWh   float64
	ShortfallKWh float64
	Penalty      float64
	Payment      float64
}

// Settle computes the payment for one block. Delivery above the base is
// capped, delivery below it is penalized at PenaltyRate times the tariff.
func Settle(iv Interval) (Settlement, error) {
	window, adjusted, err := DetectWindow(iv.Start)
	if err != nil {
		return Settlement{}, err
	}

	used := iv.EnergyKWh
	if adjusted {
		used *= AdjustFactor
	}

	var base float64
	switch window {
	case Window1:
		base = iv.ContractKWh
	case Window2:
		base = iv.PlanKWh
	case Window3:
		if iv.PlanCoversShoulder {
			base = iv.PlanKWh
		} else {
			base = iv.ContractKWh
		}
	}

	st := Settlement{Window: window, Adjusted: adjusted, UsedKWh: used, BaseKWh: base}
	if used > base {
		st.PayableKWh = base
	} else {
		st.PayableKWh = used
		st.ShortfallKWh = base - used
		st.Penalty = st.ShortfallKWh * iv.Rate * PenaltyRate
	}
	st.Payment = st.PayableKWh*iv.Rate - st.Penalty
	return st, nil
}
