package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	d, err := Open(context.Background(), DriverSQLite, "file:dbtest?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	d := openMemory(t)
	require.NoError(t, EnsureSchema(context.Background(), d, DriverSQLite))

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM calibration_scores`).Scan(&n))
	assert.Zero(t, n)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, d, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO calibration_scores (instance_id,user_id,score) VALUES (1,1,50)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM calibration_scores`).Scan(&n))
	assert.Zero(t, n)
}

func TestParseDriver(t *testing.T) {
	d, err := ParseDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, d)

	_, err = ParseDriver("oracle")
	assert.Error(t, err)
}

func TestNullFloatRoundTrip(t *testing.T) {
	assert.Nil(t, NullFloat(sql.NullFloat64{}))
	v := 42.5
	assert.Equal(t, &v, NullFloat(sql.NullFloat64{Float64: 42.5, Valid: true}))
	assert.Nil(t, FloatArg(nil))
	assert.Equal(t, 42.5, FloatArg(&v))
}
