// Package workshop runs the grading pipeline for one or many instances. It
// checks permissions, serializes recomputes per instance, records an audit
// trail and pushes results to the gradebook.
package workshop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/calibration"
	"github.com/mind-engage/mindengage-peer/internal/config"
	"github.com/mind-engage/mindengage-peer/internal/evaluation"
	"github.com/mind-engage/mindengage-peer/internal/grading"
	"github.com/mind-engage/mindengage-peer/internal/logger"
	"github.com/mind-engage/mindengage-peer/internal/metrics"
	"github.com/mind-engage/mindengage-peer/internal/rbac"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
	"github.com/mind-engage/mindengage-peer/internal/teameval"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
)

// EventLog receives audit events. *syncx.EventRepo satisfies it.
type EventLog interface {
	Append(ctx context.Context, e syncx.Event) error
}

type Deps struct {
	Assessments   assessment.Store
	Calibration   calibration.Store
	TeamEval      teameval.Store
	Groups        teameval.Groups
	QuestionTypes *teameval.QuestionTypes
	Strategies    *grading.Registry
	// Authz defaults to rbac.AllowAll, which suits the operator CLI only.
	Authz     rbac.Authorizer
	Gradebook gradebook.Sink
	Events    EventLog
	LockMode  config.LockMode
	Workers   int
	Now       func() time.Time
	Log       *zap.Logger
}

type Service struct {
	assessments assessment.Store
	calibration calibration.Store
	engine      *calibration.Engine
	evaluator   *evaluation.Evaluator
	teams       teameval.Store
	groups      teameval.Groups
	qtypes      *teameval.QuestionTypes
	strategies  *grading.Registry
	authz       rbac.Authorizer
	sink        gradebook.Sink
	events      EventLog
	locks       *LockTable
	workers     int
	now         func() time.Time
	log         *zap.Logger
	tracer      trace.Tracer
}

func New(d Deps) *Service {
	log := logger.OrNop(d.Log)
	s := &Service{
		assessments: d.Assessments,
		calibration: d.Calibration,
		teams:       d.TeamEval,
		groups:      d.Groups,
		qtypes:      d.QuestionTypes,
		strategies:  d.Strategies,
		authz:       d.Authz,
		sink:        d.Gradebook,
		events:      d.Events,
		locks:       NewLockTable(d.LockMode),
		workers:     d.Workers,
		now:         d.Now,
		log:         log,
		tracer:      otel.Tracer("github.com/mind-engage/mindengage-peer/internal/workshop"),
	}
	if s.qtypes == nil {
		s.qtypes = teameval.NewQuestionTypes()
	}
	if s.strategies == nil {
		s.strategies = grading.NewRegistry()
	}
	if s.authz == nil {
		s.authz = rbac.AllowAll{}
	}
	if s.sink == nil {
		s.sink = gradebook.Discard
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.engine = calibration.NewEngine(d.Assessments, d.Calibration, log.Named("calibration"))
	s.evaluator = evaluation.NewEvaluator(d.Assessments, s.engine.Cache, log.Named("evaluation"))
	return s
}

type nopEvents struct{}

func (nopEvents) Append(context.Context, syncx.Event) error { return nil }

// RecomputeCalibration rescores every reviewer against the reference
// assessments and keeps settings as the instance's calibration settings.
func (s *Service) RecomputeCalibration(ctx context.Context, actor, instanceID int64, settings calibration.Settings) (report calibration.Report, err error) {
	ctx, span := s.start(ctx, "RecomputeCalibration", instanceID)
	defer func() { finish(span, err) }()

	if err := s.require(ctx, actor, rbac.ActionCalibrationRecompute, instanceID); err != nil {
		return calibration.Report{}, err
	}
	if err := settings.Validate(); err != nil {
		return calibration.Report{}, err
	}
	release, err := s.locks.Acquire(ctx, instanceID)
	if err != nil {
		return calibration.Report{}, err
	}
	defer release()

	report, err = s.engine.Recompute(ctx, instanceID, settings)
	if err != nil {
		return calibration.Report{}, err
	}
	if err := s.calibration.SaveSettings(ctx, instanceID, settings); err != nil {
		return calibration.Report{}, fmt.Errorf("save calibration settings: %w", err)
	}
	span.SetAttributes(attribute.Int("reviewers", len(report.Scores)), attribute.Int("warnings", len(report.Warnings)))
	s.record(ctx, syncx.TypeCalibrationRecomputed, map[string]any{
		"instance_id": instanceID,
		"actor":       actor,
		"reviewers":   len(report.Scores),
		"warnings":    report.Messages(),
	})
	return report, nil
}

// GradesReport summarizes one RecomputeGrades run.
type GradesReport struct {
	GradingGrades int `json:"grading_grades"`
	evaluation.Result
	GroupGrades int        `json:"group_grades"`
	Push        PushReport `json:"push"`
	// Warnings lists team evaluation responses left out of the adjusted
	// grades.
	Warnings []apperr.Warning `json:"warnings,omitempty"`
}

// RecomputeGrades refreshes grading grades from the calibration scores,
// aggregates submission grades, copies them to team group grades and pushes
// everything to the gradebook.
func (s *Service) RecomputeGrades(ctx context.Context, actor, instanceID int64, adjust bool) (report GradesReport, err error) {
	ctx, span := s.start(ctx, "RecomputeGrades", instanceID)
	defer func() { finish(span, err) }()

	if err := s.require(ctx, actor, rbac.ActionGradesRecompute, instanceID); err != nil {
		return GradesReport{}, err
	}
	release, err := s.locks.Acquire(ctx, instanceID)
	if err != nil {
		return GradesReport{}, err
	}
	defer release()

	if report.GradingGrades, err = s.evaluator.ApplyGradingGrades(ctx, instanceID); err != nil {
		return GradesReport{}, err
	}
	if report.Result, err = s.evaluator.UpdateSubmissionGrades(ctx, instanceID, adjust); err != nil {
		return GradesReport{}, err
	}
	if report.GroupGrades, err = s.syncGroupGrades(ctx, instanceID); err != nil {
		return GradesReport{}, err
	}
	if report.Push, report.Warnings, err = s.pushAll(ctx, instanceID); err != nil {
		return GradesReport{}, err
	}
	s.logSkipped(instanceID, report.Warnings)

	span.SetAttributes(attribute.Int("updated", report.Updated), attribute.Int("pushed", report.Push.Pushed))
	s.record(ctx, syncx.TypeGradesRecomputed, map[string]any{
		"instance_id":             instanceID,
		"actor":                   actor,
		"adjust":                  adjust,
		"updated":                 report.Updated,
		"no_competent_reviewer":   report.NoCompetentReviewerSubmissionIDs,
		"gradebook_pushed":        report.Push.Pushed,
		"gradebook_push_failures": report.Push.Failed,
		"skipped_responses":       len(report.Warnings),
	})
	return report, nil
}

// syncGroupGrades makes every team submission's final grade its group grade.
func (s *Service) syncGroupGrades(ctx context.Context, instanceID int64) (int, error) {
	if s.teams == nil {
		return 0, nil
	}
	subs, err := s.assessments.Submissions(ctx, instanceID, false)
	if err != nil {
		return 0, fmt.Errorf("load submissions: %w", err)
	}
	n := 0
	for _, sub := range subs {
		if sub.GroupID == 0 {
			continue
		}
		if err := s.teams.SetGroupGrade(ctx, instanceID, sub.GroupID, sub.FinalGrade()); err != nil {
			return n, fmt.Errorf("save grade of group %d: %w", sub.GroupID, err)
		}
		n++
	}
	return n, nil
}

// ReleaseResult reports one release toggle.
type ReleaseResult struct {
	// Affected is empty when the release was already in the requested state.
	Affected []int64          `json:"affected_user_ids"`
	Push     PushReport       `json:"push"`
	Warnings []apperr.Warning `json:"warnings,omitempty"`
}

// SetRelease turns a team evaluation release on or off and re-pushes the
// adjusted grade of every affected user. When the team evaluation cannot be
// loaded afterwards the toggle is undone, so a retry sees the same change.
func (s *Service) SetRelease(ctx context.Context, actor, instanceID int64, scope teameval.Scope, targetID int64, active bool) (res ReleaseResult, err error) {
	ctx, span := s.start(ctx, "SetRelease", instanceID)
	defer func() { finish(span, err) }()

	if err := s.require(ctx, actor, rbac.ActionReleaseToggle, instanceID); err != nil {
		return ReleaseResult{}, err
	}
	release, err := s.locks.Acquire(ctx, instanceID)
	if err != nil {
		return ReleaseResult{}, err
	}
	defer release()

	r := teameval.Release{InstanceID: instanceID, Scope: scope, TargetID: targetID}
	if scope == teameval.ScopeAll {
		r.TargetID = 0
	}
	res.Affected, err = teameval.ToggleRelease(ctx, s.teams, s.groups, r, active)
	if err != nil {
		return ReleaseResult{}, err
	}
	span.SetAttributes(attribute.Int("affected", len(res.Affected)))
	if len(res.Affected) == 0 {
		return res, nil
	}

	scorer, err := s.scorer(ctx, instanceID)
	if err != nil {
		if _, rerr := s.teams.SetRelease(ctx, r, !active); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("undo release: %w", rerr))
		}
		return ReleaseResult{}, err
	}
	res.Warnings = scorer.Warnings
	s.logSkipped(instanceID, res.Warnings)
	if scorer.Settings.Enabled {
		item := ItemID(instanceID, ItemTeamEval)
		for _, uid := range res.Affected {
			v, err := scorer.AdjustedGrade(ctx, uid)
			if err != nil {
				res.Push.fail(fmt.Errorf("adjusted grade of user %d: %w", uid, err))
				continue
			}
			s.push(ctx, &res.Push, uid, item, v)
		}
		s.logPush(instanceID, res.Push)
	}

	s.record(ctx, syncx.TypeReleaseToggled, map[string]any{
		"instance_id":       instanceID,
		"actor":             actor,
		"scope":             scope,
		"target_id":         r.TargetID,
		"active":            active,
		"affected":          res.Affected,
		"skipped_responses": len(res.Warnings),
	})
	s.log.Info("team evaluation release toggled",
		zap.Int64("instance_id", instanceID),
		zap.String("scope", string(scope)),
		zap.Int64("target_id", r.TargetID),
		zap.Bool("active", active),
		zap.Int("affected", len(res.Affected)))
	return res, nil
}

// IsMarkAvailable reports whether userID may see their team evaluation
// marks right now.
func (s *Service) IsMarkAvailable(ctx context.Context, instanceID, userID int64) (bool, error) {
	scorer, err := s.scorer(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return scorer.MarksAvailable(ctx, userID)
}

func (s *Service) scorer(ctx context.Context, instanceID int64) (*teameval.Scorer, error) {
	return teameval.Load(ctx, s.teams, s.groups, s.qtypes, instanceID, s.now)
}

func (s *Service) logSkipped(instanceID int64, warnings []apperr.Warning) {
	if len(warnings) == 0 {
		return
	}
	var errs error
	for _, w := range warnings {
		metrics.SkippedEntities.WithLabelValues(w.Entity).Inc()
		errs = multierr.Append(errs, w)
	}
	s.log.Warn("team evaluation responses skipped",
		zap.Int64("instance_id", instanceID),
		zap.Int("skipped", len(warnings)),
		zap.Error(errs))
}

// SubmitAssessment stores a reviewer's dimension grades together with the
// peer grade the chosen strategy derives from them. Only the reviewer, or
// someone allowed to override assessments, may submit.
func (s *Service) SubmitAssessment(ctx context.Context, actor, assessmentID int64, kind string, grades []assessment.Grade) (*float64, error) {
	a, err := s.assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	action := rbac.ActionAssessmentSubmit
	if actor != a.ReviewerID {
		action = rbac.ActionAssessmentOverride
	}
	if err := s.require(ctx, actor, action, a.InstanceID); err != nil {
		return nil, err
	}
	dims, err := s.assessments.Dimensions(ctx, a.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load dimensions: %w", err)
	}
	for i := range grades {
		grades[i].AssessmentID = a.ID
	}
	pg, err := s.strategies.PeerGrade(kind, dims, grades)
	if err != nil {
		return nil, err
	}
	if err := s.assessments.SaveGrades(ctx, a.ID, grades, pg); err != nil {
		return nil, fmt.Errorf("save grades of assessment %d: %w", a.ID, err)
	}
	return pg, nil
}

// RevokeAllocation deletes an assessment. With onlyIfUngraded set, graded
// assessments are kept and assessment.ErrAssessmentGraded is returned.
func (s *Service) RevokeAllocation(ctx context.Context, actor, assessmentID int64, onlyIfUngraded bool) error {
	a, err := s.assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		return err
	}
	if err := s.require(ctx, actor, rbac.ActionAllocationRevoke, a.InstanceID); err != nil {
		return err
	}
	return s.assessments.DeleteAssessment(ctx, assessmentID, onlyIfUngraded)
}

// InstanceReport is one instance's share of RecomputeAll.
type InstanceReport struct {
	Calibration *calibration.Report `json:"calibration,omitempty"`
	Grades      GradesReport        `json:"grades"`
}

// RecomputeAll recomputes calibration (when the instance has settings) and
// grades for each instance, running at most Workers instances at a time.
// A failing instance does not stop the others; failures are combined in
// the returned error.
func (s *Service) RecomputeAll(ctx context.Context, actor int64, instanceIDs []int64, adjust bool) (map[int64]InstanceReport, error) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		out  = make(map[int64]InstanceReport, len(instanceIDs))
		errs error
	)
	g.SetLimit(s.workers)
	for _, id := range instanceIDs {
		id := id
		g.Go(func() error {
			rep, err := s.recomputeInstance(ctx, actor, id, adjust)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("instance %d: %w", id, err))
				return nil
			}
			out[id] = rep
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

func (s *Service) recomputeInstance(ctx context.Context, actor, instanceID int64, adjust bool) (InstanceReport, error) {
	var rep InstanceReport
	settings, err := s.calibration.Settings(ctx, instanceID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if adjust {
			return rep, apperr.Configuration("workshop.RecomputeAll", "instance %d has no calibration settings", instanceID)
		}
	case err != nil:
		return rep, err
	default:
		cr, err := s.RecomputeCalibration(ctx, actor, instanceID, settings)
		if err != nil {
			return rep, err
		}
		rep.Calibration = &cr
	}
	rep.Grades, err = s.RecomputeGrades(ctx, actor, instanceID, adjust)
	return rep, err
}

// Status is a read-only snapshot of an instance's grading state.
type Status struct {
	InstanceID       int64   `json:"instance_id"`
	ScoredReviewers  int     `json:"scored_reviewers"`
	Submissions      int     `json:"submissions"`
	Graded           int     `json:"graded"`
	UngradedIDs      []int64 `json:"ungraded_submission_ids"`
	CalibrationReady bool    `json:"calibration_configured"`
}

func (s *Service) Status(ctx context.Context, instanceID int64) (Status, error) {
	st := Status{InstanceID: instanceID, UngradedIDs: []int64{}}
	scores, err := s.engine.Cache.Scores(ctx, instanceID)
	if err != nil {
		return Status{}, err
	}
	st.ScoredReviewers = len(scores)
	if _, err := s.calibration.Settings(ctx, instanceID); err == nil {
		st.CalibrationReady = true
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Status{}, err
	}
	subs, err := s.assessments.Submissions(ctx, instanceID, false)
	if err != nil {
		return Status{}, err
	}
	st.Submissions = len(subs)
	for _, sub := range subs {
		if sub.FinalGrade() != nil {
			st.Graded++
		} else {
			st.UngradedIDs = append(st.UngradedIDs, sub.ID)
		}
	}
	return st, nil
}

func (s *Service) require(ctx context.Context, actor int64, action string, instanceID int64) error {
	return rbac.Require(ctx, s.authz, actor, action, rbac.Scope{InstanceID: instanceID})
}

func (s *Service) start(ctx context.Context, op string, instanceID int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "workshop."+op, trace.WithAttributes(attribute.Int64("instance_id", instanceID)))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) record(ctx context.Context, typ string, data any) {
	ev, err := syncx.NewEvent(typ, syncx.NewRunID(), data)
	if err == nil {
		err = s.events.Append(ctx, ev)
	}
	if err != nil {
		s.log.Warn("audit event not recorded", zap.String("type", typ), zap.Error(err))
	}
}
