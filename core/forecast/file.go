package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type filePoint struct {
	Time    time.Time `json:"time"`
	ValueKW float64   `json:"value_kw"`
}

// LoadSeries reads a JSON array of {"time": RFC3339, "value_kw": float}
// samples and builds a Series from it.
func LoadSeries(path string) (*Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forecast: read %s: %w", path, err)
	}
	var raw []filePoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("forecast: parse %s: %w", path, err)
	}
	pts := make([]Point, len(raw))
	for i, p := range raw {
		pts[i] = Point{Time: p.Time, Value: p.ValueKW}
	}
	s, err := NewSeries(pts)
	if err != nil {
		return nil, fmt.Errorf("forecast: %s: %w", path, err)
	}
	return s, nil
}
