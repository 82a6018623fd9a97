// Package sqlstore implements gradebook.Store over database/sql. Queries use
// $n placeholders, which both pgx and modernc sqlite accept.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
)

type Store struct{ DB *sql.DB }

func (s *Store) MarkSyncPending(ctx context.Context, userID int64, itemID string, value *float64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO grade_sync_status (user_id, item_id, value, status, retries, updated_at)
		VALUES ($1,$2,$3,'pending',0,$4)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET value=EXCLUDED.value, status='pending', updated_at=EXCLUDED.updated_at`,
		userID, itemID, nullable(value), at.Unix())
	return err
}

func (s *Store) MarkSyncOK(ctx context.Context, userID int64, itemID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE grade_sync_status
		   SET status='ok', last_error=NULL, updated_at=$3
		 WHERE user_id=$1 AND item_id=$2`, userID, itemID, at.Unix())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gradebook.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSyncFailed(ctx context.Context, userID int64, itemID string, lastErr string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO grade_sync_status (user_id, item_id, status, retries, last_error, updated_at)
		VALUES ($1,$2,'failed',1,$3,$4)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET
			status='failed',
			retries=grade_sync_status.retries+1,
			last_error=EXCLUDED.last_error,
			updated_at=EXCLUDED.updated_at`,
		userID, itemID, lastErr, at.Unix())
	return err
}

const stateCols = `user_id, item_id, value, status, retries, last_error, updated_at`

func (s *Store) SyncState(ctx context.Context, userID int64, itemID string) (gradebook.SyncState, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+stateCols+` FROM grade_sync_status WHERE user_id=$1 AND item_id=$2`, userID, itemID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gradebook.SyncState{}, gradebook.ErrNotFound
	}
	return st, err
}

func (s *Store) FailedSyncs(ctx context.Context, limit int) ([]gradebook.SyncState, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+stateCols+` FROM grade_sync_status
		WHERE status='failed' ORDER BY user_id, item_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gradebook.SyncState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) FindLineItem(ctx context.Context, itemID string) (gradebook.GradebookLineItem, error) {
	var li gradebook.GradebookLineItem
	err := s.DB.QueryRowContext(ctx, `
		SELECT item_id, label, score_max, line_item_url
		FROM gradebook_lineitems WHERE item_id=$1`, itemID).
		Scan(&li.ItemID, &li.Label, &li.ScoreMax, &li.LineItemURL)
	if errors.Is(err, sql.ErrNoRows) {
		return li, gradebook.ErrNotFound
	}
	return li, err
}

func (s *Store) UpsertLineItem(ctx context.Context, li gradebook.GradebookLineItem) (gradebook.GradebookLineItem, error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO gradebook_lineitems (item_id, label, score_max, line_item_url)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (item_id)
		DO UPDATE SET
			label=EXCLUDED.label,
			score_max=EXCLUDED.score_max,
			line_item_url=EXCLUDED.line_item_url`,
		li.ItemID, li.Label, li.ScoreMax, li.LineItemURL)
	return li, err
}

type scanner interface{ Scan(dest ...any) error }

func scanState(r scanner) (gradebook.SyncState, error) {
	var (
		st      gradebook.SyncState
		value   sql.NullFloat64
		status  string
		lastErr sql.NullString
		updated int64
	)
	if err := r.Scan(&st.UserID, &st.ItemID, &value, &status, &st.Retries, &lastErr, &updated); err != nil {
		return gradebook.SyncState{}, err
	}
	if value.Valid {
		v := value.Float64
		st.Value = &v
	}
	st.Status = gradebook.Status(status)
	st.LastError = lastErr.String
	st.UpdatedAt = time.Unix(updated, 0).UTC()
	return st, nil
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

var _ gradebook.Store = (*Store)(nil)
