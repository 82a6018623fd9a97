package workshop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/calibration"
	"github.com/mind-engage/mindengage-peer/internal/grading"
	"github.com/mind-engage/mindengage-peer/internal/rbac"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
	"github.com/mind-engage/mindengage-peer/internal/teameval"
	"github.com/mind-engage/mindengage-peer/internal/workshop"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
)

const instance = int64(1)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var strict = calibration.Settings{ComparisonLevel: 5, ConsistencyLevel: 5}

/* ---------------- fakes ---------------- */

type pushed struct {
	User  int64
	Item  string
	Value *float64
}

type recordingSink struct {
	mu     sync.Mutex
	pushes []pushed
}

func (s *recordingSink) PushGrade(_ context.Context, userID int64, itemID string, value *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, pushed{userID, itemID, value})
	return nil
}

// byItem returns the latest value pushed per user for one item.
func (s *recordingSink) byItem(item string) map[int64]*float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]*float64{}
	for _, p := range s.pushes {
		if p.Item == item {
			out[p.User] = p.Value
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushes)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []syncx.Event
}

func (r *recordingEvents) Append(_ context.Context, e syncx.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

/* ---------------- fixture ---------------- */

type teamStore interface {
	teameval.Store
	teameval.Groups
	AddMember(ctx context.Context, instanceID, groupID, userID int64) error
}

type fixture struct {
	as     assessment.Store
	cal    calibration.Store
	teams  teamStore
	sink   *recordingSink
	events *recordingEvents
	svc    *workshop.Service

	dim              assessment.Dimension
	subA, subB       assessment.Submission
	aA10, aA11, aB10 assessment.Assessment
}

// newFixture builds a service over in-memory stores seeded by seedOn.
func newFixture(t *testing.T, mutate func(*workshop.Deps)) *fixture {
	t.Helper()
	f := newFixtureOn(t, assessment.NewInMemoryStore(), teameval.NewInMemoryStore())
	f.cal = calibration.NewInMemoryStore()
	deps := workshop.Deps{
		Assessments: f.as,
		Calibration: f.cal,
		TeamEval:    f.teams,
		Groups:      f.teams,
		Gradebook:   f.sink,
		Events:      f.events,
		Now:         func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc = workshop.New(deps)
	return f
}

// newFixtureOn seeds instance 1 with a 0..10 dimension, three examples with
// reference grade 8, practice by reviewer 10 (8,8,8) and 11 (4,4,4), a
// team submission A by group 5 (users 1,2,3) reviewed by 10 and 11, and a
// solo submission B by user 4 reviewed by 10. The caller sets svc.
func newFixtureOn(t *testing.T, as assessment.Store, teams teamStore) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{as: as, teams: teams, sink: &recordingSink{}, events: &recordingEvents{}}
	var err error
	f.dim, err = f.as.PutDimension(ctx, assessment.Dimension{InstanceID: instance, Max: 10, Weight: 1})
	require.NoError(t, err)

	practice := map[int64][]float64{10: {8, 8, 8}, 11: {4, 4, 4}}
	for i := 0; i < 3; i++ {
		ex, err := f.as.PutSubmission(ctx, assessment.Submission{InstanceID: instance, IsExample: true})
		require.NoError(t, err)
		ref, err := f.as.Allocate(ctx, instance, ex.ID, 999, assessment.ReferenceWeight)
		require.NoError(t, err)
		require.NoError(t, f.as.SaveGrades(ctx, ref.ID, []assessment.Grade{{DimensionID: f.dim.ID, Value: 8}}, nil))
		for reviewer, values := range practice {
			a, err := f.as.Allocate(ctx, instance, ex.ID, reviewer, 0)
			require.NoError(t, err)
			require.NoError(t, f.as.SaveGrades(ctx, a.ID, []assessment.Grade{{DimensionID: f.dim.ID, Value: values[i]}}, nil))
		}
	}

	f.subA, err = f.as.PutSubmission(ctx, assessment.Submission{InstanceID: instance, AuthorID: 1, GroupID: 5})
	require.NoError(t, err)
	f.subB, err = f.as.PutSubmission(ctx, assessment.Submission{InstanceID: instance, AuthorID: 4})
	require.NoError(t, err)
	f.aA10, err = f.as.Allocate(ctx, instance, f.subA.ID, 10, 1)
	require.NoError(t, err)
	f.aA11, err = f.as.Allocate(ctx, instance, f.subA.ID, 11, 1)
	require.NoError(t, err)
	f.aB10, err = f.as.Allocate(ctx, instance, f.subB.ID, 10, 1)
	require.NoError(t, err)

	for _, u := range []int64{1, 2, 3} {
		require.NoError(t, f.teams.AddMember(ctx, instance, 5, u))
	}
	require.NoError(t, f.teams.AddMember(ctx, instance, 6, 4))
	return f
}

func (f *fixture) submit(t *testing.T, a assessment.Assessment, value float64) {
	t.Helper()
	pg, err := f.svc.SubmitAssessment(context.Background(), a.ReviewerID, a.ID, grading.KindAccumulative,
		[]assessment.Grade{{DimensionID: f.dim.ID, Value: value}})
	require.NoError(t, err)
	require.NotNil(t, pg)
	assert.InDelta(t, value*10, *pg, 1e-9)
}

func (f *fixture) submitAll(t *testing.T) {
	f.submit(t, f.aA10, 9)
	f.submit(t, f.aA11, 5)
	f.submit(t, f.aB10, 6)
}

func (f *fixture) release(t *testing.T, scope teameval.Scope, target int64, active bool) []int64 {
	t.Helper()
	res, err := f.svc.SetRelease(context.Background(), 0, instance, scope, target, active)
	require.NoError(t, err)
	return res.Affected
}

func grade(t *testing.T, as assessment.Store, id int64) *float64 {
	t.Helper()
	s, err := as.GetSubmission(context.Background(), id)
	require.NoError(t, err)
	return s.Grade
}

/* ---------------- tests ---------------- */

func TestRecomputePipelineAdjusted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)

	cr, err := f.svc.RecomputeCalibration(ctx, 0, instance, strict)
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{10: 100, 11: 60}, roundScores(cr.Scores))

	stored, err := f.cal.Settings(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, strict, stored)

	rep, err := f.svc.RecomputeGrades(ctx, 0, instance, true)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.GradingGrades)
	assert.Equal(t, 2, rep.Updated)
	assert.Empty(t, rep.NoCompetentReviewerSubmissionIDs)
	assert.Equal(t, 1, rep.GroupGrades)

	// (90*100 + 50*60) / (100 + 60)
	assert.InDelta(t, 75.0, *grade(t, f.as, f.subA.ID), 1e-9)
	assert.InDelta(t, 60.0, *grade(t, f.as, f.subB.ID), 1e-9)

	gg, err := f.teams.GroupGrade(ctx, instance, 5)
	require.NoError(t, err)
	require.NotNil(t, gg)
	assert.InDelta(t, 75.0, *gg, 1e-9)

	subs := f.sink.byItem("1:submission")
	require.Len(t, subs, 4, "every member of group 5 plus user 4")
	for _, u := range []int64{1, 2, 3} {
		assert.InDelta(t, 75.0, *subs[u], 1e-9)
	}
	assert.InDelta(t, 60.0, *subs[4], 1e-9)

	reviewers := f.sink.byItem("1:assessment")
	require.Len(t, reviewers, 2)
	assert.InDelta(t, 100.0, *reviewers[10], 1e-6)
	assert.InDelta(t, 60.0, *reviewers[11], 1e-6)

	assert.Empty(t, f.sink.byItem("1:teameval"), "nothing released yet")
	assert.Equal(t, 6, rep.Push.Pushed)
	assert.Zero(t, rep.Push.Failed)

	assert.Equal(t, []string{
		syncx.TypeCalibrationRecomputed,
		syncx.TypeGradesPushed,
		syncx.TypeGradesRecomputed,
	}, f.events.types())
}

func TestRecomputeGradesPlainMean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)

	_, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, *grade(t, f.as, f.subA.ID), 1e-9)
	assert.InDelta(t, 60.0, *grade(t, f.as, f.subB.ID), 1e-9)

	// without calibration every reviewer is incompetent once adjusted
	rep, err := f.svc.RecomputeGrades(ctx, 0, instance, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.subA.ID, f.subB.ID}, rep.NoCompetentReviewerSubmissionIDs)
	assert.Nil(t, grade(t, f.as, f.subA.ID))
	assert.Nil(t, f.sink.byItem("1:submission")[4], "cleared grade is pushed as nil")
}

func TestSubmissionOverrideWinsInGradebook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)
	require.NoError(t, f.as.SetSubmissionOverride(ctx, f.subB.ID, assessment.Float(95)))

	_, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, *grade(t, f.as, f.subB.ID), 1e-9)
	assert.InDelta(t, 95.0, *f.sink.byItem("1:submission")[4], 1e-9)
}

func TestSetReleasePushesAffectedUsersOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)

	past := now.Add(-time.Hour)
	require.NoError(t, f.teams.SaveSettings(ctx, instance, teameval.Settings{
		Enabled: true, Fraction: 0.5, NoncompletionPenalty: 0.1, Deadline: &past,
	}))
	q, err := f.teams.PutQuestion(ctx, teameval.Question{InstanceID: instance, Ordinal: 1, Type: teameval.TypeLikert, Config: []byte(`{"min":1,"max":5}`)})
	require.NoError(t, err)
	for marker, payload := range map[int64]string{
		1: `{"marks":{"2":5,"3":5}}`,
		2: `{"marks":{"1":5,"3":3}}`,
		3: `{"marks":{"1":3,"2":1}}`,
	} {
		require.NoError(t, f.teams.SaveResponse(ctx, q.ID, marker, []byte(payload)))
	}

	_, err = f.svc.RecomputeCalibration(ctx, 0, instance, strict)
	require.NoError(t, err)
	_, err = f.svc.RecomputeGrades(ctx, 0, instance, true)
	require.NoError(t, err)
	ok, err := f.svc.IsMarkAvailable(ctx, instance, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []int64{1}, f.release(t, teameval.ScopeUser, 1, true))

	te := f.sink.byItem("1:teameval")
	require.Len(t, te, 1)
	// group grade 75 times multiplier 0.875
	assert.InDelta(t, 65.625, *te[1], 1e-9)

	ok, err = f.svc.IsMarkAvailable(ctx, instance, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.IsMarkAvailable(ctx, instance, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	before := f.sink.count()
	assert.Empty(t, f.release(t, teameval.ScopeUser, 1, true))
	assert.Equal(t, before, f.sink.count(), "unchanged release pushes nothing")

	assert.Equal(t, []int64{1}, f.release(t, teameval.ScopeUser, 1, false))
	assert.Nil(t, f.sink.byItem("1:teameval")[1], "unreleased marks are cleared")

	assert.Equal(t, []int64{1, 2, 3, 4}, f.release(t, teameval.ScopeAll, 0, true))
	te = f.sink.byItem("1:teameval")
	assert.NotNil(t, te[2])
	assert.Nil(t, te[4], "user 4 has no group grade")

	_, err = f.svc.SetRelease(ctx, 0, instance, teameval.Scope("TEAM"), 0, true)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestActionsNeedPermission(t *testing.T) {
	ctx := context.Background()
	roles := rbac.NewStaticRoles()
	roles.Grant(50, instance, "teacher")
	for _, u := range []int64{10, 11} {
		roles.Grant(u, instance, "student")
	}
	f := newFixture(t, func(d *workshop.Deps) {
		d.Authz = rbac.NewRoleAuthorizer(nil, roles)
	})

	_, err := f.svc.RecomputeGrades(ctx, 10, instance, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.RecomputeCalibration(ctx, 10, instance, strict)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.SetRelease(ctx, 11, instance, teameval.ScopeAll, 0, true)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	f.submit(t, f.aA10, 9)
	_, err = f.svc.SubmitAssessment(ctx, 11, f.aA10.ID, grading.KindAccumulative,
		[]assessment.Grade{{DimensionID: f.dim.ID, Value: 1}})
	assert.ErrorIs(t, err, apperr.ErrForbidden, "students cannot grade for others")

	pg, err := f.svc.SubmitAssessment(ctx, 50, f.aA10.ID, grading.KindAccumulative,
		[]assessment.Grade{{DimensionID: f.dim.ID, Value: 7}})
	require.NoError(t, err)
	assert.InDelta(t, 70.0, *pg, 1e-9)

	_, err = f.svc.RecomputeGrades(ctx, 50, instance, false)
	assert.NoError(t, err)
}

func TestSubmitAssessmentRejectsUnknownDimension(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitAssessment(context.Background(), 10, f.aA10.ID, grading.KindAccumulative,
		[]assessment.Grade{{DimensionID: 9999, Value: 1}})
	assert.ErrorIs(t, err, apperr.ErrIntegrityViolation)

	_, err = f.svc.SubmitAssessment(context.Background(), 10, f.aA10.ID, "holistic", nil)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestRevokeAllocationKeepsGraded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submit(t, f.aA10, 9)

	err := f.svc.RevokeAllocation(ctx, 0, f.aA10.ID, true)
	assert.ErrorIs(t, err, assessment.ErrAssessmentGraded)
	require.NoError(t, f.svc.RevokeAllocation(ctx, 0, f.aA11.ID, true))
	_, err = f.as.GetAssessment(ctx, f.aA11.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFailedPushesAreRetried(t *testing.T) {
	ctx := context.Background()
	gbStore := gradebook.NewMemoryStore()
	down := true
	flaky := gradebook.SinkFunc(func(_ context.Context, userID int64, _ string, _ *float64) error {
		if down && userID == 4 {
			return errors.New("lms unavailable")
		}
		return nil
	})
	f := newFixture(t, func(d *workshop.Deps) {
		d.Gradebook = gradebook.New(gbStore, flaky, func() time.Time { return now })
	})
	f.submitAll(t)

	rep, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err, "push failures do not fail the recompute")
	assert.Equal(t, 1, rep.Push.Failed)
	assert.Equal(t, 5, rep.Push.Pushed)
	assert.Error(t, rep.Push.Err)

	st, err := gbStore.SyncState(ctx, 4, "1:submission")
	require.NoError(t, err)
	assert.Equal(t, gradebook.StatusFailed, st.Status)

	down = false
	rep, err = f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Push.Retried)
	assert.Zero(t, rep.Push.Failed)

	st, err = gbStore.SyncState(ctx, 4, "1:submission")
	require.NoError(t, err)
	assert.Equal(t, gradebook.StatusOK, st.Status)
}

func TestRecomputeAllIsolatesInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *workshop.Deps) { d.Workers = 2 })
	f.submitAll(t)
	require.NoError(t, f.cal.SaveSettings(ctx, instance, strict))

	reports, err := f.svc.RecomputeAll(ctx, 0, []int64{instance, 2}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "instance 2")

	require.Contains(t, reports, instance)
	assert.NotContains(t, reports, int64(2))
	require.NotNil(t, reports[instance].Calibration)
	assert.Equal(t, 2, reports[instance].Grades.Updated)
	assert.InDelta(t, 75.0, *grade(t, f.as, f.subA.ID), 1e-9)

	reports, err = f.svc.RecomputeAll(ctx, 0, []int64{instance, 2}, false)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Nil(t, reports[2].Calibration)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	st, err := f.svc.Status(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, workshop.Status{
		InstanceID:  instance,
		Submissions: 2,
		UngradedIDs: []int64{f.subA.ID, f.subB.ID},
	}, st)

	f.submitAll(t)
	_, err = f.svc.RecomputeCalibration(ctx, 0, instance, strict)
	require.NoError(t, err)
	_, err = f.svc.RecomputeGrades(ctx, 0, instance, true)
	require.NoError(t, err)

	st, err = f.svc.Status(ctx, instance)
	require.NoError(t, err)
	assert.True(t, st.CalibrationReady)
	assert.Equal(t, 2, st.ScoredReviewers)
	assert.Equal(t, 2, st.Graded)
	assert.Empty(t, st.UngradedIDs)
}

func TestReviewerGrades(t *testing.T) {
	got := workshop.ReviewerGrades([]assessment.Assessment{
		{ReviewerID: 1, Weight: 1, GradingGrade: assessment.Float(40)},
		{ReviewerID: 1, Weight: 2, GradingGrade: assessment.Float(60), GradingGradeOverride: assessment.Float(80)},
		{ReviewerID: 2, Weight: 1},
		{ReviewerID: 3, Weight: 0, GradingGrade: assessment.Float(10)},
	})
	require.Len(t, got, 2)
	assert.InDelta(t, 60.0, *got[1], 1e-9)
	assert.Nil(t, got[2])
}

func TestItemID(t *testing.T) {
	assert.Equal(t, "12:teameval", workshop.ItemID(12, workshop.ItemTeamEval))
}

func roundScores(m map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(m))
	for k, v := range m {
		out[k] = float64(int64(v*1e6+0.5)) / 1e6
	}
	return out
}

// flakyTeams fails the next failQuestions question loads.
type flakyTeams struct {
	teamStore
	failQuestions int
}

func (f *flakyTeams) Questions(ctx context.Context, instanceID int64) ([]teameval.Question, error) {
	if f.failQuestions > 0 {
		f.failQuestions--
		return nil, errors.New("questions unavailable")
	}
	return f.teamStore.Questions(ctx, instanceID)
}

func TestMalformedTeamResponseIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)

	past := now.Add(-time.Hour)
	require.NoError(t, f.teams.SaveSettings(ctx, instance, teameval.Settings{
		Enabled: true, Fraction: 0.5, NoncompletionPenalty: 0.1, Deadline: &past, Autorelease: true,
	}))
	q, err := f.teams.PutQuestion(ctx, teameval.Question{InstanceID: instance, Ordinal: 1, Type: teameval.TypeLikert, Config: []byte(`{"min":1,"max":5}`)})
	require.NoError(t, err)
	for marker, payload := range map[int64]string{
		1: `{"marks":{"2":5,"3":5}}`,
		2: `{"marks":{"abc":5}}`,
		3: `{"marks":{"1":3,"2":1}}`,
	} {
		require.NoError(t, f.teams.SaveResponse(ctx, q.ID, marker, []byte(payload)))
	}

	rep, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Updated)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "teameval_response", rep.Warnings[0].Entity)
	assert.Equal(t, int64(2), rep.Warnings[0].ID)
	assert.ErrorIs(t, rep.Warnings[0], apperr.ErrIntegrityViolation)

	// group grade 70; user 2 counts as not having answered
	te := f.sink.byItem("1:teameval")
	require.Len(t, te, 3)
	assert.InDelta(t, 52.5, *te[1], 1e-9)
	assert.InDelta(t, 45.5, *te[2], 1e-9)
	assert.InDelta(t, 70.0, *te[3], 1e-9)

	ok, err := f.svc.IsMarkAvailable(ctx, instance, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := f.svc.SetRelease(ctx, 0, instance, teameval.ScopeGroup, 5, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, res.Affected)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, 3, res.Push.Pushed)
}

func TestSetReleaseIsUndoneWhenScoringFails(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyTeams{}
	f := newFixture(t, func(d *workshop.Deps) {
		flaky.teamStore = d.TeamEval.(teamStore)
		d.TeamEval = flaky
	})
	f.submitAll(t)
	past := now.Add(-time.Hour)
	require.NoError(t, f.teams.SaveSettings(ctx, instance, teameval.Settings{Enabled: true, Fraction: 0.5, Deadline: &past}))
	_, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	require.Empty(t, f.sink.byItem("1:teameval"))

	flaky.failQuestions = 1
	_, err = f.svc.SetRelease(ctx, 0, instance, teameval.ScopeUser, 1, true)
	require.Error(t, err)
	rels, err := f.teams.Releases(ctx, instance)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// the retry sees the same change and pushes it
	assert.Equal(t, []int64{1}, f.release(t, teameval.ScopeUser, 1, true))
	te := f.sink.byItem("1:teameval")
	require.Contains(t, te, int64(1))
	assert.InDelta(t, 70.0, *te[1], 1e-9)
}

func TestTeamEvalWithoutSettingsPushesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitAll(t)

	_, err := f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, f.release(t, teameval.ScopeAll, 0, true))
	_, err = f.svc.RecomputeGrades(ctx, 0, instance, false)
	require.NoError(t, err)
	assert.Empty(t, f.sink.byItem("1:teameval"))
}
