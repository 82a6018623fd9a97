package evaluation

import (
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-peer/internal/assessment"
)

// RowSource streams rows into fn; assessment.Store.EachRow bound to an
// instance is one.
type RowSource func(fn func(assessment.Row) error) error

// Group is the contiguous run of rows of one submission.
type Group struct {
	SubmissionID int64
	Rows         []assessment.Row
}

// ErrUnsorted is returned when rows are not ordered by submission id.
var ErrUnsorted = errors.New("rows not sorted by submission id")

// GroupBySubmission emits one Group per submission. Rows must arrive sorted
// by submission id; a submission id lower than the current one aborts the
// pass with ErrUnsorted. Only the current group is held in memory.
func GroupBySubmission(src RowSource, emit func(Group) error) error {
	var cur *Group
	err := src(func(r assessment.Row) error {
		if cur != nil && r.SubmissionID == cur.SubmissionID {
			cur.Rows = append(cur.Rows, r)
			return nil
		}
		if cur != nil {
			if r.SubmissionID < cur.SubmissionID {
				return fmt.Errorf("submission %d after %d: %w", r.SubmissionID, cur.SubmissionID, ErrUnsorted)
			}
			if err := emit(*cur); err != nil {
				return err
			}
		}
		cur = &Group{SubmissionID: r.SubmissionID, Rows: []assessment.Row{r}}
		return nil
	})
	if err != nil {
		return err
	}
	if cur != nil {
		// last group
		return emit(*cur)
	}
	return nil
}

// Outcome is the aggregated grade of one submission.
type Outcome struct {
	Grade *float64
	// NoCompetentReviewer is set when graded assessments exist but every
	// one carries zero competence weight.
	NoCompetentReviewer bool
}

// Aggregate computes the submission grade of g. Ungraded assessments and
// assessments with weight 0 never count. With adjust the mean is weighted
// by assessment weight times the reviewer's effective grading grade,
// otherwise by assessment weight alone.
func Aggregate(g Group, adjust bool) Outcome {
	var num, den float64
	graded := 0
	for _, r := range g.Rows {
		if r.PeerGrade == nil || r.Weight <= 0 {
			continue
		}
		graded++
		w := float64(r.Weight)
		if adjust {
			gg := 0.0
			if p := r.EffectiveGradingGrade(); p != nil {
				gg = *p
			}
			w *= gg
		}
		num += *r.PeerGrade * w
		den += w
	}
	if graded == 0 {
		return Outcome{}
	}
	if den == 0 {
		return Outcome{NoCompetentReviewer: adjust}
	}
	v := num / den
	return Outcome{Grade: &v}
}
