package calibration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/db"
)

type SQLStore struct{ db *sql.DB }

func NewSQLStore(d *sql.DB) *SQLStore { return &SQLStore{db: d} }

func (s *SQLStore) Settings(ctx context.Context, instanceID int64) (Settings, error) {
	var out Settings
	err := s.db.QueryRowContext(ctx, `SELECT comparison_level, consistency_level, required_examples
		FROM calibration_settings WHERE instance_id=$1`, instanceID).
		Scan(&out.ComparisonLevel, &out.ConsistencyLevel, &out.RequiredExamples)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("calibration settings for instance %d: %w", instanceID, apperr.ErrNotFound)
	}
	return out, err
}

func (s *SQLStore) SaveSettings(ctx context.Context, instanceID int64, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO calibration_settings (instance_id, comparison_level, consistency_level, required_examples)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (instance_id) DO UPDATE SET comparison_level=EXCLUDED.comparison_level,
			consistency_level=EXCLUDED.consistency_level, required_examples=EXCLUDED.required_examples`,
		instanceID, st.ComparisonLevel, st.ConsistencyLevel, st.RequiredExamples)
	return err
}

func (s *SQLStore) ReplaceScores(ctx context.Context, instanceID int64, scores map[int64]float64) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM calibration_scores WHERE instance_id=$1`, instanceID); err != nil {
			return err
		}
		for userID, score := range scores {
			if _, err := tx.ExecContext(ctx, `INSERT INTO calibration_scores (instance_id, user_id, score) VALUES ($1,$2,$3)`,
				instanceID, userID, score); err != nil {
				return fmt.Errorf("insert score for user %d: %w", userID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Scores(ctx context.Context, instanceID int64) (map[int64]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, score FROM calibration_scores WHERE instance_id=$1`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]float64{}
	for rows.Next() {
		var uid int64
		var score float64
		if err := rows.Scan(&uid, &score); err != nil {
			return nil, err
		}
		out[uid] = score
	}
	return out, rows.Err()
}
