//go:build integration

package workshop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/assessment"
	"github.com/mind-engage/mindengage-peer/internal/calibration"
	"github.com/mind-engage/mindengage-peer/internal/db/dbtest"
	syncx "github.com/mind-engage/mindengage-peer/internal/sync"
	"github.com/mind-engage/mindengage-peer/internal/teameval"
	"github.com/mind-engage/mindengage-peer/internal/workshop"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/sqlstore"
)

func TestPipelineOnPostgres(t *testing.T) {
	ctx := context.Background()
	d := dbtest.OpenPostgres(t)
	teams := teameval.NewSQLStore(d)
	events := syncx.NewEventRepo(d)
	syncs := &sqlstore.Store{DB: d}
	sqlAs := assessment.NewSQLStore(d)

	f := newFixtureOn(t, sqlAs, teams)
	svc := workshop.New(workshop.Deps{
		Assessments: sqlAs,
		Calibration: calibration.NewSQLStore(d),
		TeamEval:    teams,
		Groups:      teams,
		Gradebook:   gradebook.New(syncs, f.sink, nil),
		Events:      events,
	})
	f.svc = svc
	f.submitAll(t)

	_, err := svc.RecomputeCalibration(ctx, 0, instance, strict)
	require.NoError(t, err)
	rep, err := svc.RecomputeGrades(ctx, 0, instance, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Updated)
	assert.InDelta(t, 75.0, *grade(t, sqlAs, f.subA.ID), 1e-9)

	st, err := syncs.SyncState(ctx, 4, "1:submission")
	require.NoError(t, err)
	assert.Equal(t, gradebook.StatusOK, st.Status)

	recent, err := events.Recent(ctx, syncx.TypeGradesRecomputed, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
