// Package forecast provides the timestamp-indexed exogenous series the
// optimizers consume. Series are read-only once built; a window request that
// the series cannot fully cover fails instead of being zero-filled.
package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrCoverage indicates a series does not cover the requested window.
var ErrCoverage = errors.New("forecast coverage incomplete")

// Point is one timestamped sample.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is an ordered, duplicate-free sequence of timestamped values.
type Series struct {
	times  []time.Time
	values []float64
}

// NewSeries builds a Series from points. Points are sorted by timestamp and
// duplicates collapse to the last occurrence.
func NewSeries(points []Point) (*Series, error) {
	if len(points) == 0 {
		return nil, errors.New("series requires at least one point")
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	s := &Series{}
	for _, p := range sorted {
		n := len(s.times)
		if n > 0 && s.times[n-1].Equal(p.Time) {
			s.values[n-1] = p.Value
			continue
		}
		s.times = append(s.times, p.Time)
		s.values = append(s.values, p.Value)
	}
	return s, nil
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.times) }

// Start returns the first sample's timestamp.
func (s *Series) Start() time.Time { return s.times[0] }

// End returns the last sample's timestamp.
func (s *Series) End() time.Time { return s.times[len(s.times)-1] }

// At returns the value holding at t: the sample at t or, failing that, the
// most recent sample before t. The boolean is false before the first sample.
func (s *Series) At(t time.Time) (float64, bool) {
	idx := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(t) })
	if idx == 0 {
		return 0, false
	}
	return s.values[idx-1], true
}

// Window extracts values on an exact step grid starting at start. Every grid
// instant must be covered by the series (sample-and-hold); a gap returns
// ErrCoverage wrapped with the missing instant.
func (s *Series) Window(start time.Time, step time.Duration, steps int) ([]float64, error) {
	if steps < 1 {
		return nil, fmt.Errorf("window needs at least one step, got %d", steps)
	}
	last := start.Add(time.Duration(steps-1) * step)
	if start.Before(s.times[0]) || last.After(s.End()) {
		return nil, fmt.Errorf("%w: need [%v, %v], have [%v, %v]",
			ErrCoverage, start, last, s.Start(), s.End())
	}
	out := make([]float64, steps)
	for k := 0; k < steps; k++ {
		v, ok := s.At(start.Add(time.Duration(k) * step))
		if !ok {
			return nil, fmt.Errorf("%w: no sample at or before %v", ErrCoverage, start.Add(time.Duration(k)*step))
		}
		out[k] = v
	}
	return out, nil
}

// Resample returns a new Series on the given step grid using sample-and-hold,
// covering [start, start+steps*step). It is how a 15-minute day-ahead plan is
// carried onto a 5-minute or 1-minute grid.
func (s *Series) Resample(start time.Time, step time.Duration, steps int) (*Series, error) {
	vals, err := s.Window(start, step, steps)
	if err != nil {
		return nil, err
	}
	out := &Series{times: make([]time.Time, steps), values: vals}
	for k := 0; k < steps; k++ {
		out.times[k] = start.Add(time.Duration(k) * step)
	}
	return out, nil
}
