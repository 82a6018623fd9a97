package assessment

import "github.com/mind-engage/mindengage-peer/internal/apperr"

// ReferenceWeight marks the manager-authored assessment of an example
// submission. Reviewer practice assessments on examples carry weight 0.
const ReferenceWeight = 1

// Dimension is one scoring axis of an assessment form.
type Dimension struct {
	ID         int64   `json:"id"`
	InstanceID int64   `json:"instance_id"`
	SortOrder  int     `json:"sort_order"`
	Title      string  `json:"title"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Weight     float64 `json:"weight"`
	// ScaleItems > 0 turns the dimension into a 1..N scale.
	ScaleItems int `json:"scale_items,omitempty"`
}

// Range returns the effective min and max, using the synthetic 1..N range
// for scale dimensions.
func (d Dimension) Range() (float64, float64) {
	if d.ScaleItems > 0 {
		return 1, float64(d.ScaleItems)
	}
	return d.Min, d.Max
}

// Validate rejects a dimension whose range is inverted or whose weight is
// negative.
func (d Dimension) Validate() error {
	if d.ScaleItems < 0 {
		return apperr.Configuration("assessment.dimension", "dimension %q has %d scale items", d.Title, d.ScaleItems)
	}
	if lo, hi := d.Range(); hi < lo {
		return apperr.Configuration("assessment.dimension", "dimension %q has max %v below min %v", d.Title, hi, lo)
	}
	if d.Weight < 0 {
		return apperr.Configuration("assessment.dimension", "dimension %q has negative weight %v", d.Title, d.Weight)
	}
	return nil
}

// Grade is a single reviewer's raw value on one dimension.
type Grade struct {
	AssessmentID int64   `json:"assessment_id"`
	DimensionID  int64   `json:"dimension_id"`
	Value        float64 `json:"value"`
	Comment      string  `json:"comment,omitempty"`
}

type Assessment struct {
	ID           int64 `json:"id"`
	InstanceID   int64 `json:"instance_id"`
	SubmissionID int64 `json:"submission_id"`
	ReviewerID   int64 `json:"reviewer_id"`
	// Weight 0 is practice on an example; > 0 counts with that emphasis.
	Weight               int      `json:"weight"`
	PeerGrade            *float64 `json:"peer_grade,omitempty"`
	GradingGrade         *float64 `json:"grading_grade,omitempty"`
	GradingGradeOverride *float64 `json:"grading_grade_override,omitempty"`
}

// EffectiveGradingGrade prefers the override.
func (a Assessment) EffectiveGradingGrade() *float64 {
	if a.GradingGradeOverride != nil {
		return a.GradingGradeOverride
	}
	return a.GradingGrade
}

type Submission struct {
	ID            int64    `json:"id"`
	InstanceID    int64    `json:"instance_id"`
	AuthorID      int64    `json:"author_id"`
	GroupID       int64    `json:"group_id,omitempty"`
	IsExample     bool     `json:"is_example"`
	Grade         *float64 `json:"grade,omitempty"`
	GradeOverride *float64 `json:"grade_override,omitempty"`
}

// FinalGrade prefers the override.
func (s Submission) FinalGrade() *float64 {
	if s.GradeOverride != nil {
		return s.GradeOverride
	}
	return s.Grade
}

// GradedAssessment bundles an assessment with its dimension grades.
type GradedAssessment struct {
	Assessment
	Grades []Grade `json:"grades"`
}

// Row is the slice of an assessment the grade aggregation streams over.
type Row struct {
	SubmissionID         int64
	AssessmentID         int64
	ReviewerID           int64
	Weight               int
	PeerGrade            *float64
	GradingGrade         *float64
	GradingGradeOverride *float64
}

func (r Row) EffectiveGradingGrade() *float64 {
	if r.GradingGradeOverride != nil {
		return r.GradingGradeOverride
	}
	return r.GradingGrade
}

func RowOf(a Assessment) Row {
	return Row{
		SubmissionID:         a.SubmissionID,
		AssessmentID:         a.ID,
		ReviewerID:           a.ReviewerID,
		Weight:               a.Weight,
		PeerGrade:            a.PeerGrade,
		GradingGrade:         a.GradingGrade,
		GradingGradeOverride: a.GradingGradeOverride,
	}
}

// Float is a convenience for building optional grades.
func Float(v float64) *float64 { return &v }
