package calibration

import (
	"math"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
)

// Input is everything needed to score one reviewer.
type Input struct {
	ReviewerID int64
	Dimensions map[int64]assessment.Dimension
	// Practice holds the reviewer's assessments of example submissions.
	Practice []assessment.GradedAssessment
	// References holds the reference assessment per example submission id.
	References map[int64]assessment.GradedAssessment
	Settings   Settings
	// Required is the resolved minimum number of completed examples.
	Required int
}

type Result struct {
	Score    float64
	Warnings []apperr.Warning
}

// Score compares the reviewer's practice grades with the references and
// returns a competence score in [0,100].
//
// Differences are taken per (example, dimension) pair present on both
// sides. Each absolute difference is scaled by the dimension range without
// subtracting min: it is already a distance. An accuracy term from the mean
// difference, reshaped by the comparison curve, is multiplied by a
// consistency term from the mean absolute deviation of the differences.
func Score(in Input) Result {
	var res Result
	warn := func(kind error, entity string, id int64, format string, args ...any) {
		res.Warnings = append(res.Warnings, apperr.Warn(kind, entity, id, format, args...))
	}

	completed := 0
	for _, p := range in.Practice {
		if len(p.Grades) > 0 {
			completed++
		}
	}
	if completed < in.Required {
		warn(apperr.ErrInsufficientData, "reviewer", in.ReviewerID, "completed %d of %d required examples", completed, in.Required)
		return res
	}

	var diffs []float64
	for _, p := range in.Practice {
		if len(p.Grades) == 0 {
			continue
		}
		ref, ok := in.References[p.SubmissionID]
		if !ok || len(ref.Grades) == 0 {
			warn(apperr.ErrIntegrityViolation, "submission", p.SubmissionID, "no reference assessment for example")
			continue
		}
		refValues := make(map[int64]float64, len(ref.Grades))
		for _, g := range ref.Grades {
			refValues[g.DimensionID] = g.Value
		}
		for _, g := range p.Grades {
			dim, ok := in.Dimensions[g.DimensionID]
			if !ok {
				warn(apperr.ErrIntegrityViolation, "assessment", p.ID, "grade on unknown dimension %d", g.DimensionID)
				continue
			}
			want, ok := refValues[g.DimensionID]
			if !ok {
				continue
			}
			diffs = append(diffs, normalizeDiff(dim, math.Abs(want-g.Value)))
		}
	}
	if len(diffs) == 0 {
		warn(apperr.ErrIntegrityViolation, "reviewer", in.ReviewerID, "no dimension graded on both sides")
		return res
	}

	res.Score = combine(diffs, in.Settings)
	return res
}

func combine(diffs []float64, s Settings) float64 {
	m := mean(diffs)

	x := 1.0
	if m/100 >= 0.01 {
		x = 1 - clamp(m/100, 0, 1)
	}
	x = applyAccuracyCurve(x, s.ComparisonLevel)

	dev := make([]float64, len(diffs))
	for i, d := range diffs {
		dev[i] = math.Abs(d - m)
	}
	yRaw := mean(dev) / 100
	y := 1.0
	if yRaw >= 0.01 {
		y = 1 - clamp(yRaw, 0, 1)
	}

	return clamp(x*consistencyMultiplier(y, s.ConsistencyLevel), 0, 1) * 100
}

// normalizeDiff expresses a grade distance as a percentage of the
// dimension range. A degenerate range yields max.
func normalizeDiff(d assessment.Dimension, diff float64) float64 {
	lo, hi := d.Range()
	if hi <= lo {
		return hi
	}
	return 100 * diff / (hi - lo)
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
