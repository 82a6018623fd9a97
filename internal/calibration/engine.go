// Package calibration scores reviewer competence against the reference
// assessments of example submissions.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/logger"
	"github.com/mind-engage/mindengage-peer/internal/metrics"
)

// Report is the outcome of one batch recompute.
type Report struct {
	Scores   map[int64]float64 `json:"scores"`
	Warnings []apperr.Warning  `json:"warnings"`
}

// Messages renders the warnings for display.
func (r Report) Messages() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

// Skipped counts warnings of the given kind.
func (r Report) Skipped(kind error) int {
	n := 0
	for _, w := range r.Warnings {
		if errors.Is(w, kind) {
			n++
		}
	}
	return n
}

type Engine struct {
	Assessments assessment.Store
	Scores      Store
	Cache       *ScoreCache
	Log         *zap.Logger
}

func NewEngine(as assessment.Store, scores Store, log *zap.Logger) *Engine {
	return &Engine{Assessments: as, Scores: scores, Cache: NewScoreCache(scores), Log: logger.OrNop(log)}
}

// Recompute scores every reviewer with at least one completed example
// assessment and replaces the instance's stored scores. Per-reviewer data
// problems become warnings; only invalid settings and storage failures are
// returned as errors. Callers serialize recomputes of one instance.
func (e *Engine) Recompute(ctx context.Context, instanceID int64, s Settings) (Report, error) {
	if err := s.Validate(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	defer func() {
		metrics.RecomputeDuration.WithLabelValues("calibration").Observe(time.Since(start).Seconds())
	}()

	dimList, err := e.Assessments.Dimensions(ctx, instanceID)
	if err != nil {
		return Report{}, fmt.Errorf("load dimensions: %w", err)
	}
	dims := make(map[int64]assessment.Dimension, len(dimList))
	for _, d := range dimList {
		dims[d.ID] = d
	}
	examples, err := e.Assessments.Submissions(ctx, instanceID, true)
	if err != nil {
		return Report{}, fmt.Errorf("load examples: %w", err)
	}
	required := s.RequiredExamples
	if required == 0 {
		required = len(examples)
	}
	if required > len(examples) {
		return Report{}, apperr.Configuration("calibration.Recompute", "%d examples required but instance %d has %d", required, instanceID, len(examples))
	}

	graded, err := assessment.GradedAssessments(ctx, e.Assessments, assessment.Filter{InstanceID: instanceID, Examples: assessment.Bool(true)})
	if err != nil {
		return Report{}, fmt.Errorf("load example assessments: %w", err)
	}
	refs, practice := splitReferences(graded)

	report := Report{Scores: make(map[int64]float64, len(practice))}
	reviewers := make([]int64, 0, len(practice))
	for id := range practice {
		reviewers = append(reviewers, id)
	}
	sort.Slice(reviewers, func(i, j int) bool { return reviewers[i] < reviewers[j] })

	for _, rid := range reviewers {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		res := Score(Input{
			ReviewerID: rid,
			Dimensions: dims,
			Practice:   practice[rid],
			References: refs,
			Settings:   s,
			Required:   required,
		})
		report.Scores[rid] = res.Score
		report.Warnings = append(report.Warnings, res.Warnings...)
	}

	if err := e.Scores.ReplaceScores(ctx, instanceID, report.Scores); err != nil {
		return Report{}, fmt.Errorf("save scores: %w", err)
	}
	e.Cache.Invalidate(instanceID)

	metrics.CalibrationScoresComputed.Add(float64(len(report.Scores)))
	var errs error
	for _, w := range report.Warnings {
		metrics.SkippedEntities.WithLabelValues(w.Entity).Inc()
		errs = multierr.Append(errs, w)
	}
	if errs != nil {
		e.Log.Warn("calibration recompute finished with warnings",
			zap.Int64("instance_id", instanceID),
			zap.Int("warnings", len(report.Warnings)),
			zap.Error(errs))
	}
	e.Log.Info("calibration recomputed",
		zap.Int64("instance_id", instanceID),
		zap.Int("reviewers", len(report.Scores)),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

// splitReferences separates reference assessments (by example submission)
// from reviewer practice (by reviewer). Practice without any grades is
// dropped; when an example has several graded references the latest wins.
func splitReferences(graded []assessment.GradedAssessment) (map[int64]assessment.GradedAssessment, map[int64][]assessment.GradedAssessment) {
	refs := map[int64]assessment.GradedAssessment{}
	practice := map[int64][]assessment.GradedAssessment{}
	for _, g := range graded {
		if g.Weight >= assessment.ReferenceWeight {
			if len(g.Grades) == 0 {
				continue
			}
			if cur, ok := refs[g.SubmissionID]; !ok || g.ID > cur.ID {
				refs[g.SubmissionID] = g
			}
			continue
		}
		if len(g.Grades) > 0 {
			practice[g.ReviewerID] = append(practice[g.ReviewerID], g)
		}
	}
	return refs, practice
}
