package syncx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/db/dbtest"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
)

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	repo := syncx.NewEventRepo(dbtest.Open(t))
	repo.Now = func() time.Time { return time.Unix(1700000000, 0) }

	run := syncx.NewRunID()
	e, err := syncx.NewEvent(syncx.TypeCalibrationRecomputed, run, map[string]any{"instance_id": 4, "reviewers": 12})
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, e))
	e, err = syncx.NewEvent(syncx.TypeReleaseToggled, syncx.NewRunID(), map[string]any{"scope": "ALL"})
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, e))

	all, err := repo.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, syncx.TypeReleaseToggled, all[0].Type)

	cal, err := repo.Recent(ctx, syncx.TypeCalibrationRecomputed, 10)
	require.NoError(t, err)
	require.Len(t, cal, 1)
	assert.Equal(t, run, cal[0].Key)
	assert.JSONEq(t, `{"instance_id":4,"reviewers":12}`, string(cal[0].Data))
	assert.Equal(t, int64(1700000000), cal[0].CreatedAt)
}
