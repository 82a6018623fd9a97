package grading

import (
	"sort"

	"github.com/mind-engage/mindengage-peer/internal/assessment"
)

// Rubric sums the chosen level scores of every criterion and maps the total
// onto 0..100 between the lowest and highest possible totals. Each dimension
// is one criterion; Min and Max are its lowest and highest level scores.
type Rubric struct{}

func (Rubric) PeerGrade(dims []assessment.Dimension, grades []assessment.Grade) (float64, bool) {
	if len(grades) == 0 {
		return 0, false
	}
	given := byDimension(grades)
	var got, lo, hi float64
	for _, d := range dims {
		g, ok := given[d.ID]
		if !ok {
			// every criterion must be filled in
			return 0, false
		}
		dlo, dhi := d.Range()
		lo += dlo
		hi += dhi
		got += g.Value
	}
	if hi <= lo {
		return 0, false
	}
	return clampPercent(100 * (got - lo) / (hi - lo)), true
}

// ErrorMapping grades an assessment with at least Errors weighted failures.
type ErrorMapping struct {
	Errors int     `json:"errors"`
	Grade  float64 `json:"grade"`
}

// NumErrors counts failed assertions. Each dimension is an assertion whose
// grade is 1 (passed) or 0 (failed); a failure adds the dimension weight to
// the error count. The grade is the entry of Mapping with the largest
// Errors not above the count, or 100 when none applies.
type NumErrors struct {
	Mapping []ErrorMapping
}

func (n NumErrors) PeerGrade(dims []assessment.Dimension, grades []assessment.Grade) (float64, bool) {
	if len(grades) == 0 {
		return 0, false
	}
	given := byDimension(grades)
	errs := 0.0
	for _, d := range dims {
		g, ok := given[d.ID]
		if !ok || d.Weight <= 0 {
			continue
		}
		if g.Value < 1 {
			errs += d.Weight
		}
	}
	if errs == 0 {
		return 100, true
	}
	m := append([]ErrorMapping(nil), n.Mapping...)
	sort.Slice(m, func(i, j int) bool { return m[i].Errors < m[j].Errors })
	grade := 100.0
	for _, e := range m {
		if float64(e.Errors) > errs {
			break
		}
		grade = e.Grade
	}
	return clampPercent(grade), true
}

// Comments has no numeric criteria: a completed assessment scores 100.
type Comments struct{}

func (Comments) PeerGrade(_ []assessment.Dimension, grades []assessment.Grade) (float64, bool) {
	if len(grades) == 0 {
		return 0, false
	}
	return 100, true
}
