package assessment

import (
	"context"
	"errors"
)

type Filter struct {
	InstanceID   int64
	SubmissionID int64 // 0 = any
	ReviewerID   int64 // 0 = any
	// Examples restricts to assessments on example (true) or real (false)
	// submissions; nil = both.
	Examples *bool
}

// Store owns Dimension, Submission, Assessment and Grade records.
type Store interface {
	PutDimension(ctx context.Context, d Dimension) (Dimension, error)
	Dimensions(ctx context.Context, instanceID int64) ([]Dimension, error)

	PutSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, id int64) (Submission, error)
	Submissions(ctx context.Context, instanceID int64, examples bool) ([]Submission, error)
	// SetSubmissionGrade writes one submission's aggregated grade atomically.
	SetSubmissionGrade(ctx context.Context, submissionID int64, grade *float64) error
	SetSubmissionOverride(ctx context.Context, submissionID int64, override *float64) error

	// Allocate creates the assessment for (submission, reviewer) or returns the
	// existing one.
	Allocate(ctx context.Context, instanceID, submissionID, reviewerID int64, weight int) (Assessment, error)
	GetAssessment(ctx context.Context, id int64) (Assessment, error)
	Assessments(ctx context.Context, f Filter) ([]Assessment, error)
	// DeleteAssessment revokes an allocation. With onlyIfUngraded set it
	// refuses assessments that already carry grades.
	DeleteAssessment(ctx context.Context, id int64, onlyIfUngraded bool) error

	// SaveGrades upserts dimension grades and the derived peer grade together.
	SaveGrades(ctx context.Context, assessmentID int64, grades []Grade, peerGrade *float64) error
	Grades(ctx context.Context, assessmentIDs []int64) (map[int64][]Grade, error)

	SetGradingGrades(ctx context.Context, grades map[int64]*float64) error
	SetGradingGradeOverride(ctx context.Context, assessmentID int64, override *float64) error

	// EachRow streams the instance's counted assessments (non-example
	// submissions) ordered by submission id, then assessment id.
	EachRow(ctx context.Context, instanceID int64, fn func(Row) error) error
}

// GradedAssessments loads assessments matching f together with their grades.
func GradedAssessments(ctx context.Context, s Store, f Filter) ([]GradedAssessment, error) {
	as, err := s.Assessments(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(as))
	for _, a := range as {
		ids = append(ids, a.ID)
	}
	grades, err := s.Grades(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]GradedAssessment, 0, len(as))
	for _, a := range as {
		out = append(out, GradedAssessment{Assessment: a, Grades: grades[a.ID]})
	}
	return out, nil
}

func Bool(b bool) *bool { return &b }

// ErrAssessmentGraded is returned when revoking an allocation that already
// carries grades under the keep-graded policy.
var ErrAssessmentGraded = errors.New("assessment already graded")
