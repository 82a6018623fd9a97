package calibration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
)

var tenPoint = map[int64]assessment.Dimension{1: {ID: 1, Min: 0, Max: 10, Weight: 1}}

// fixture builds n examples graded refValue by the reference and the given
// values by the reviewer, all on dimension 1.
func fixture(refValue float64, reviewer ...float64) ([]assessment.GradedAssessment, map[int64]assessment.GradedAssessment) {
	refs := map[int64]assessment.GradedAssessment{}
	var practice []assessment.GradedAssessment
	for i, v := range reviewer {
		sub := int64(100 + i)
		refs[sub] = assessment.GradedAssessment{
			Assessment: assessment.Assessment{ID: int64(200 + i), SubmissionID: sub, Weight: assessment.ReferenceWeight},
			Grades:     []assessment.Grade{{DimensionID: 1, Value: refValue}},
		}
		practice = append(practice, assessment.GradedAssessment{
			Assessment: assessment.Assessment{ID: int64(300 + i), SubmissionID: sub},
			Grades:     []assessment.Grade{{DimensionID: 1, Value: v}},
		})
	}
	return practice, refs
}

func TestScoreWorkedExample(t *testing.T) {
	s := Settings{ComparisonLevel: 5, ConsistencyLevel: 5}

	practice, refs := fixture(8, 8, 8, 8)
	a := Score(Input{Dimensions: tenPoint, Practice: practice, References: refs, Settings: s, Required: 3})
	assert.Equal(t, 100.0, a.Score)
	assert.Empty(t, a.Warnings)

	practice, refs = fixture(8, 4, 4, 4)
	b := Score(Input{Dimensions: tenPoint, Practice: practice, References: refs, Settings: s, Required: 3})
	assert.InDelta(t, 60.0, b.Score, 1e-9)
}

func TestScoreBelowRequiredIsZero(t *testing.T) {
	practice, refs := fixture(8, 8, 8)
	res := Score(Input{ReviewerID: 4, Dimensions: tenPoint, Practice: practice, References: refs,
		Settings: Settings{ComparisonLevel: 9, ConsistencyLevel: 9}, Required: 3})
	assert.Zero(t, res.Score)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], apperr.ErrInsufficientData)
}

func TestScoreEmptyOverlapWarns(t *testing.T) {
	practice, refs := fixture(8, 8)
	practice[0].Grades[0].DimensionID = 2 // unknown to the form
	res := Score(Input{ReviewerID: 4, Dimensions: tenPoint, Practice: practice, References: refs,
		Settings: Settings{ComparisonLevel: 5, ConsistencyLevel: 5}, Required: 1})
	assert.Zero(t, res.Score)
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.ErrorIs(t, w, apperr.ErrIntegrityViolation)
	}
}

func TestScoreMissingReferenceSkipsExample(t *testing.T) {
	practice, refs := fixture(8, 8, 2)
	delete(refs, practice[1].SubmissionID)
	res := Score(Input{Dimensions: tenPoint, Practice: practice, References: refs,
		Settings: Settings{ComparisonLevel: 5, ConsistencyLevel: 5}, Required: 2})
	assert.Equal(t, 100.0, res.Score)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, practice[1].SubmissionID, res.Warnings[0].ID)
}

func TestScoreAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		dims := map[int64]assessment.Dimension{
			1: {ID: 1, Min: 0, Max: float64(1 + rng.Intn(20)), Weight: 1},
			2: {ID: 2, ScaleItems: 2 + rng.Intn(6), Weight: 1},
			3: {ID: 3, Min: 3, Max: 3, Weight: 1},
		}
		n := 1 + rng.Intn(5)
		refs := map[int64]assessment.GradedAssessment{}
		var practice []assessment.GradedAssessment
		for e := 0; e < n; e++ {
			sub := int64(e + 1)
			var rg, pg []assessment.Grade
			for id, d := range dims {
				lo, hi := d.Range()
				rg = append(rg, assessment.Grade{DimensionID: id, Value: lo + rng.Float64()*(hi-lo)})
				pg = append(pg, assessment.Grade{DimensionID: id, Value: lo + rng.Float64()*(hi-lo)})
			}
			refs[sub] = assessment.GradedAssessment{Assessment: assessment.Assessment{SubmissionID: sub, Weight: 1}, Grades: rg}
			practice = append(practice, assessment.GradedAssessment{Assessment: assessment.Assessment{SubmissionID: sub}, Grades: pg})
		}
		s := Settings{ComparisonLevel: 1 + rng.Intn(9), ConsistencyLevel: 1 + rng.Intn(9)}
		got := Score(Input{Dimensions: dims, Practice: practice, References: refs, Settings: s, Required: n}).Score
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 100.0)
	}
}

func TestScoreMonotonicInComparisonLevel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		values := make([]float64, 1+rng.Intn(4))
		for j := range values {
			values[j] = rng.Float64() * 10
		}
		practice, refs := fixture(rng.Float64()*10, values...)
		consistency := 1 + rng.Intn(9)
		scores := make([]float64, MaxLevel+1)
		for level := MinLevel; level <= MaxLevel; level++ {
			scores[level] = Score(Input{Dimensions: tenPoint, Practice: practice, References: refs,
				Settings: Settings{ComparisonLevel: level, ConsistencyLevel: consistency}, Required: len(values)}).Score
		}
		for lo := MinLevel; lo <= MaxLevel; lo++ {
			for hi := lo + 1; hi <= MaxLevel; hi++ {
				require.LessOrEqual(t, scores[lo], scores[hi]+1e-9, "levels %d < %d", lo, hi)
			}
		}
	}
}

func TestConsistencyIndexIsInverted(t *testing.T) {
	// level 9 picks index 0 and never penalizes
	assert.Equal(t, 1.0, consistencyMultiplier(0, 9))
	// level 1 picks index 8 (factor 3): y=0.5 gives 3*0.5-3+1
	assert.InDelta(t, -0.5, consistencyMultiplier(0.5, 1), 1e-12)
	// y=1 is neutral for every level
	for level := MinLevel; level <= MaxLevel; level++ {
		assert.InDelta(t, 1.0, consistencyMultiplier(1, level), 1e-12)
	}
}

func TestNormalizeDiffDoesNotSubtractMin(t *testing.T) {
	d := assessment.Dimension{Min: 5, Max: 15}
	assert.Equal(t, 30.0, normalizeDiff(d, 3))
	assert.Equal(t, 7.0, normalizeDiff(assessment.Dimension{Min: 7, Max: 7}, 0))
}
