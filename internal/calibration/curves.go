package calibration

import "math"

// gradingCurve maps a level to its curve factor. Level 9 is the most
// relaxed, 1 the strictest. Index 0 only appears through the inverted
// consistency index and switches the consistency penalty off.
var gradingCurve = [10]float64{
	0: 0,
	1: 0.25,
	2: 0.333,
	3: 0.5,
	4: 0.666,
	5: 1.0,
	6: 1.5,
	7: 2.0,
	8: 3.0,
	9: 4.0,
}

const (
	MinLevel = 1
	MaxLevel = 9
)

// CurveFactor returns the table entry for a level in 0..9.
func CurveFactor(level int) float64 {
	if level < 0 || level > MaxLevel {
		return 0
	}
	return gradingCurve[level]
}

// applyAccuracyCurve reshapes x in [0,1] with a power law. Relaxed levels
// pull small errors toward 1, strict levels push them toward 0.
func applyAccuracyCurve(x float64, comparisonLevel int) float64 {
	c := CurveFactor(comparisonLevel)
	if c >= 1 {
		return 1 - math.Pow(1-x, c)
	}
	return math.Pow(x, 1/c)
}

// consistencyMultiplier is linear in y through (1,1) with slope cc. The
// level index is inverted: a higher consistency level picks a smaller cc.
func consistencyMultiplier(y float64, consistencyLevel int) float64 {
	cc := CurveFactor(MaxLevel - consistencyLevel)
	return cc*y - cc + 1
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
