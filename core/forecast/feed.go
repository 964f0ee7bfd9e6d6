package forecast

import (
	"fmt"
	"time"
)

// Feed bundles the exogenous series one run consumes. Demand and SolarForecast
// are mandatory; SolarActual is optional and, when present, supersedes the
// forecast for already-elapsed instants.
type Feed struct {
	Demand        *Series
	SolarForecast *Series
	SolarActual   *Series
}

// Validate checks the mandatory series are present.
func (f *Feed) Validate() error {
	if f.Demand == nil {
		return fmt.Errorf("feed: demand series is required")
	}
	if f.SolarForecast == nil {
		return fmt.Errorf("feed: solar forecast series is required")
	}
	return nil
}

// Solar returns the solar power window for the horizon starting at start,
// preferring actuals where they cover the instant and falling back to the
// forecast elsewhere. A coverage gap in the forecast is an error.
func (f *Feed) Solar(start time.Time, step time.Duration, steps int) ([]float64, error) {
	fc, err := f.SolarForecast.Window(start, step, steps)
	if err != nil {
		return nil, err
	}
	if f.SolarActual == nil {
		return fc, nil
	}
	for k := 0; k < steps; k++ {
		ts := start.Add(time.Duration(k) * step)
		if ts.After(f.SolarActual.End()) {
			break
		}
		if v, ok := f.SolarActual.At(ts); ok {
			fc[k] = v
		}
	}
	return fc, nil
}
