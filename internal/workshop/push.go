package workshop

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/metrics"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
)

// Gradebook item kinds.
const (
	ItemSubmission = "submission"
	ItemAssessment = "assessment"
	ItemTeamEval   = "teameval"
)

// ItemID names one gradebook column: "<instanceID>:<kind>".
func ItemID(instanceID int64, kind string) string {
	return strconv.FormatInt(instanceID, 10) + ":" + kind
}

// PushReport counts gradebook pushes. Failed pushes do not fail the
// recompute; the gradebook sink records them for retry.
type PushReport struct {
	Pushed  int   `json:"pushed"`
	Failed  int   `json:"failed"`
	Retried int   `json:"retried"`
	Err     error `json:"-"`
}

func (r *PushReport) fail(err error) {
	metrics.GradebookPushes.WithLabelValues("failed").Inc()
	r.Failed++
	r.Err = multierr.Append(r.Err, err)
}

type retrier interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
}

const retryBatch = 500

// pushAll sends the submission, assessment and team evaluation grades of
// every user of the instance. It also returns the team evaluation
// responses that were skipped.
func (s *Service) pushAll(ctx context.Context, instanceID int64) (PushReport, []apperr.Warning, error) {
	var rep PushReport
	if r, ok := s.sink.(retrier); ok {
		n, err := r.RetryFailed(ctx, retryBatch)
		if err != nil {
			s.log.Warn("gradebook retry failed", zap.Int64("instance_id", instanceID), zap.Error(err))
		}
		rep.Retried = n
	}

	subs, err := s.assessments.Submissions(ctx, instanceID, false)
	if err != nil {
		return rep, nil, fmt.Errorf("load submissions: %w", err)
	}
	subItem := ItemID(instanceID, ItemSubmission)
	for _, sub := range subs {
		recipients := []int64{sub.AuthorID}
		if sub.GroupID != 0 && s.groups != nil {
			if recipients, err = s.groups.MembersOf(ctx, instanceID, sub.GroupID); err != nil {
				return rep, nil, fmt.Errorf("members of group %d: %w", sub.GroupID, err)
			}
		}
		for _, uid := range recipients {
			s.push(ctx, &rep, uid, subItem, sub.FinalGrade())
		}
	}

	as, err := s.assessments.Assessments(ctx, assessment.Filter{InstanceID: instanceID, Examples: assessment.Bool(false)})
	if err != nil {
		return rep, nil, fmt.Errorf("load assessments: %w", err)
	}
	reviewers := ReviewerGrades(as)
	ids := make([]int64, 0, len(reviewers))
	for id := range reviewers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	asItem := ItemID(instanceID, ItemAssessment)
	for _, id := range ids {
		s.push(ctx, &rep, id, asItem, reviewers[id])
	}

	warnings, err := s.pushTeamEval(ctx, &rep, instanceID)
	if err != nil {
		return rep, nil, err
	}

	s.logPush(instanceID, rep)
	s.record(ctx, syncx.TypeGradesPushed, map[string]any{
		"instance_id": instanceID,
		"pushed":      rep.Pushed,
		"failed":      rep.Failed,
		"retried":     rep.Retried,
	})
	return rep, warnings, nil
}

// pushTeamEval sends adjusted grades of users whose marks are available.
// A user whose grade cannot be computed counts as a failed push.
func (s *Service) pushTeamEval(ctx context.Context, rep *PushReport, instanceID int64) ([]apperr.Warning, error) {
	if s.teams == nil || s.groups == nil {
		return nil, nil
	}
	scorer, err := s.scorer(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !scorer.Settings.Enabled {
		return scorer.Warnings, nil
	}
	users, err := s.groups.Users(ctx, instanceID)
	if err != nil {
		return scorer.Warnings, fmt.Errorf("load users: %w", err)
	}
	item := ItemID(instanceID, ItemTeamEval)
	for _, uid := range users {
		v, err := scorer.AdjustedGrade(ctx, uid)
		if err != nil {
			rep.fail(fmt.Errorf("adjusted grade of user %d: %w", uid, err))
			continue
		}
		if v != nil {
			s.push(ctx, rep, uid, item, v)
		}
	}
	return scorer.Warnings, nil
}

// ReviewerGrades is each reviewer's mean effective grading grade over their
// counted assessments. A reviewer whose counted assessments carry no
// grading grade maps to nil.
func ReviewerGrades(as []assessment.Assessment) map[int64]*float64 {
	type acc struct {
		sum float64
		n   int
	}
	accs := map[int64]*acc{}
	for _, a := range as {
		if a.Weight <= 0 {
			continue
		}
		r, ok := accs[a.ReviewerID]
		if !ok {
			r = &acc{}
			accs[a.ReviewerID] = r
		}
		if g := a.EffectiveGradingGrade(); g != nil {
			r.sum += *g
			r.n++
		}
	}
	out := make(map[int64]*float64, len(accs))
	for id, r := range accs {
		if r.n == 0 {
			out[id] = nil
			continue
		}
		out[id] = assessment.Float(r.sum / float64(r.n))
	}
	return out
}

func (s *Service) push(ctx context.Context, rep *PushReport, userID int64, itemID string, value *float64) {
	if err := s.sink.PushGrade(ctx, userID, itemID, value); err != nil {
		rep.fail(fmt.Errorf("user %d item %s: %w", userID, itemID, err))
		return
	}
	metrics.GradebookPushes.WithLabelValues("ok").Inc()
	rep.Pushed++
}

func (s *Service) logPush(instanceID int64, rep PushReport) {
	if rep.Err != nil {
		s.log.Warn("gradebook pushes failed",
			zap.Int64("instance_id", instanceID),
			zap.Int("failed", rep.Failed),
			zap.Error(rep.Err))
	}
	s.log.Debug("gradebook pushed",
		zap.Int64("instance_id", instanceID),
		zap.Int("pushed", rep.Pushed),
		zap.Int("retried", rep.Retried))
}
