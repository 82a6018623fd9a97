package teameval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/db/dbtest"
	"github.com/mind-engage/mindengage-peer/internal/teameval"
)

func TestSQLStoreScoresLikeMemory(t *testing.T) {
	ctx := context.Background()
	s := teameval.NewSQLStore(dbtest.Open(t))

	_, err := s.Settings(ctx, instance)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	deadline := now.Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, s.SaveSettings(ctx, instance, teameval.Settings{Enabled: true, Fraction: 0.5, NoncompletionPenalty: 0.1, Deadline: &deadline}))
	got, err := s.Settings(ctx, instance)
	require.NoError(t, err)
	require.NotNil(t, got.Deadline)
	assert.True(t, deadline.Equal(*got.Deadline))

	for _, u := range []int64{1, 2, 3} {
		require.NoError(t, s.AddMember(ctx, instance, 5, u))
	}
	require.NoError(t, s.AddMember(ctx, instance, 6, 4))
	gid, err := s.GroupOf(ctx, instance, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), gid)
	gid, err = s.GroupOf(ctx, instance, 42)
	require.NoError(t, err)
	assert.Zero(t, gid)

	q, err := s.PutQuestion(ctx, teameval.Question{InstanceID: instance, Ordinal: 1, Type: teameval.TypeLikert, Config: []byte(`{"min":1,"max":5}`)})
	require.NoError(t, err)
	require.NoError(t, s.SaveResponse(ctx, q.ID, 2, []byte(`{"marks":{"1":1}}`)))
	require.NoError(t, s.SaveResponse(ctx, q.ID, 2, []byte(`{"marks":{"1":5}}`)))
	require.NoError(t, s.SaveResponse(ctx, q.ID, 3, []byte(`{"marks":{"1":3}}`)))

	changed, err := s.SetRelease(ctx, teameval.Release{InstanceID: instance, Scope: teameval.ScopeUser, TargetID: 1}, true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.SetRelease(ctx, teameval.Release{InstanceID: instance, Scope: teameval.ScopeUser, TargetID: 1}, true)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.SetGroupGrade(ctx, instance, 5, floatPtr(60)))
	require.NoError(t, s.SetGroupGrade(ctx, instance, 5, floatPtr(80)))

	sc, err := teameval.Load(ctx, s, s, teameval.NewQuestionTypes(), instance, func() time.Time { return now })
	require.NoError(t, err)
	score, err := sc.Score(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, score, 1e-9)

	g, err := sc.AdjustedGrade(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, g)
	// user 1 answered nothing: 0.5 + 0.375 - 0.1
	assert.InDelta(t, 80*0.775, *g, 1e-9)

	users, err := s.Users(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, users)
}
