// Package stats summarizes a sensor's measurement series.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/02loveslollipop/gios-airquality/internal/models"
)

// Summary describes a measurement selection. Trend is the least-squares slope
// in value units per hour; it needs at least two distinct timestamps.
type Summary struct {
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	StdDev float64  `json:"stddev"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Median float64  `json:"median"`
	P95    float64  `json:"p95"`
	Trend  *float64 `json:"trend_per_hour,omitempty"`
}

// Summarize returns nil for an empty series.
func Summarize(ms []models.Measurement) *Summary {
	if len(ms) == 0 {
		return nil
	}

	values := make([]float64, len(ms))
	hours := make([]float64, len(ms))
	origin := ms[0].Timestamp
	for i, m := range ms {
		values[i] = m.Value
		hours[i] = m.Timestamp.Sub(origin).Hours()
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := &Summary{
		Count:  len(values),
		Mean:   stat.Mean(values, nil),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}

	if stat.Variance(hours, nil) > 0 {
		_, slope := stat.LinearRegression(hours, values, nil, false)
		if !math.IsNaN(slope) {
			s.Trend = &slope
		}
	}
	return s
}
