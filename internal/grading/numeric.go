package grading

import "github.com/mind-engage/mindengage-peer/internal/assessment"

// Accumulative is the weighted sum of per-dimension percentages.
//
// Only dimensions with weight > 0 and a non-empty range count. Scale
// dimensions map item 1..N onto 0..100 through (item-1)/(N-1).
type Accumulative struct{}

func (Accumulative) PeerGrade(dims []assessment.Dimension, grades []assessment.Grade) (float64, bool) {
	if len(grades) == 0 {
		return 0, false
	}
	given := byDimension(grades)
	var sum, totalWeight float64
	for _, d := range dims {
		g, ok := given[d.ID]
		if !ok || d.Weight <= 0 {
			continue
		}
		pct, ok := Percent(d, g.Value)
		if !ok {
			continue
		}
		sum += pct * d.Weight
		totalWeight += d.Weight
	}
	if totalWeight == 0 {
		return 0, false
	}
	return sum / totalWeight, true
}

// Percent normalizes a raw value to 0..100 of the dimension's range. ok is
// false for an empty range.
func Percent(d assessment.Dimension, value float64) (float64, bool) {
	lo, hi := d.Range()
	if hi <= lo {
		return 0, false
	}
	return clampPercent(100 * (value - lo) / (hi - lo)), true
}
