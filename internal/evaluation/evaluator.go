// Package evaluation turns calibration scores and peer grades into grading
// grades and submission grades.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/calibration"
	"github.com/mind-engage/mindengage-peer/internal/logger"
	"github.com/mind-engage/mindengage-peer/internal/metrics"
)

// UpdateGradingGrades assigns every counted assessment (weight > 0) its
// reviewer's calibration score, or 0 for an unscored reviewer. The input
// must not contain assessments of example submissions.
func UpdateGradingGrades(assessments []assessment.Assessment, scores map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(assessments))
	for _, a := range assessments {
		if a.Weight <= 0 {
			continue
		}
		out[a.ID] = scores[a.ReviewerID]
	}
	return out
}

// Result reports one submission-grade pass.
type Result struct {
	Updated int `json:"updated_submissions"`
	// Cleared counts submissions that lost a stale grade because no counted
	// assessment is left on them.
	Cleared                          int     `json:"cleared_submissions"`
	NoCompetentReviewerSubmissionIDs []int64 `json:"no_competent_reviewer_submission_ids"`
}

type Evaluator struct {
	Assessments assessment.Store
	Scores      *calibration.ScoreCache
	Log         *zap.Logger
}

func NewEvaluator(as assessment.Store, scores *calibration.ScoreCache, log *zap.Logger) *Evaluator {
	return &Evaluator{Assessments: as, Scores: scores, Log: logger.OrNop(log)}
}

// ApplyGradingGrades writes grading grades from the cached calibration
// scores and returns how many assessments were set.
func (e *Evaluator) ApplyGradingGrades(ctx context.Context, instanceID int64) (int, error) {
	scores, err := e.Scores.Scores(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("load calibration scores: %w", err)
	}
	as, err := e.Assessments.Assessments(ctx, assessment.Filter{InstanceID: instanceID, Examples: assessment.Bool(false)})
	if err != nil {
		return 0, fmt.Errorf("load assessments: %w", err)
	}
	grades := UpdateGradingGrades(as, scores)
	if len(grades) == 0 {
		return 0, nil
	}
	set := make(map[int64]*float64, len(grades))
	for id, g := range grades {
		set[id] = assessment.Float(g)
	}
	if err := e.Assessments.SetGradingGrades(ctx, set); err != nil {
		return 0, fmt.Errorf("save grading grades: %w", err)
	}
	return len(set), nil
}

// UpdateSubmissionGrades makes one streaming pass over the instance's
// counted assessments in submission id order and writes each submission's
// grade as soon as its group is complete. The stream is merged with the
// submission list, so a submission left without counted assessments gets a
// null grade too. A submission without a competent reviewer gets a null
// grade and is listed in the result.
func (e *Evaluator) UpdateSubmissionGrades(ctx context.Context, instanceID int64, adjust bool) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecomputeDuration.WithLabelValues("submission_grades").Observe(time.Since(start).Seconds())
	}()

	subs, err := e.Assessments.Submissions(ctx, instanceID, false)
	if err != nil {
		return Result{}, fmt.Errorf("load submissions: %w", err)
	}
	res := Result{NoCompetentReviewerSubmissionIDs: []int64{}}
	next := 0
	// clearBefore nulls graded submissions with an id below id that the
	// stream skipped, then steps past id itself.
	clearBefore := func(id int64) error {
		for ; next < len(subs) && subs[next].ID < id; next++ {
			if subs[next].Grade == nil {
				continue
			}
			if err := e.Assessments.SetSubmissionGrade(ctx, subs[next].ID, nil); err != nil {
				return fmt.Errorf("clear grade of submission %d: %w", subs[next].ID, err)
			}
			res.Cleared++
		}
		if next < len(subs) && subs[next].ID == id {
			next++
		}
		return nil
	}

	src := func(fn func(assessment.Row) error) error {
		return e.Assessments.EachRow(ctx, instanceID, fn)
	}
	err = GroupBySubmission(src, func(g Group) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := clearBefore(g.SubmissionID); err != nil {
			return err
		}
		out := Aggregate(g, adjust)
		if out.NoCompetentReviewer {
			res.NoCompetentReviewerSubmissionIDs = append(res.NoCompetentReviewerSubmissionIDs, g.SubmissionID)
			metrics.NoCompetentReviewers.Inc()
		}
		if err := e.Assessments.SetSubmissionGrade(ctx, g.SubmissionID, out.Grade); err != nil {
			return fmt.Errorf("save grade of submission %d: %w", g.SubmissionID, err)
		}
		if out.Grade != nil {
			res.Updated++
		}
		return nil
	})
	if err == nil {
		err = clearBefore(math.MaxInt64)
	}
	if err != nil {
		return Result{}, err
	}

	if n := len(res.NoCompetentReviewerSubmissionIDs); n > 0 {
		e.Log.Warn("submissions without competent reviewers",
			zap.Int64("instance_id", instanceID),
			zap.Int64s("submission_ids", res.NoCompetentReviewerSubmissionIDs))
	}
	e.Log.Info("submission grades recomputed",
		zap.Int64("instance_id", instanceID),
		zap.Bool("adjust", adjust),
		zap.Int("updated", res.Updated),
		zap.Int("cleared", res.Cleared))
	return res, nil
}
