package teameval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/db"
)

// SQLStore implements Store and Groups over the shared schema.
type SQLStore struct{ db *sql.DB }

func NewSQLStore(d *sql.DB) *SQLStore { return &SQLStore{db: d} }

func (s *SQLStore) Settings(ctx context.Context, instanceID int64) (Settings, error) {
	var out Settings
	var deadline sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT enabled, public, fraction, noncompletion_penalty, deadline, autorelease, include_self
		FROM teameval_settings WHERE instance_id=$1`, instanceID).
		Scan(&out.Enabled, &out.Public, &out.Fraction, &out.NoncompletionPenalty, &deadline, &out.Autorelease, &out.IncludeSelf)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("team evaluation settings for instance %d: %w", instanceID, apperr.ErrNotFound)
	}
	if err != nil {
		return Settings{}, err
	}
	if deadline.Valid {
		d := time.Unix(deadline.Int64, 0).UTC()
		out.Deadline = &d
	}
	return out, nil
}

func (s *SQLStore) SaveSettings(ctx context.Context, instanceID int64, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	var deadline any
	if st.Deadline != nil {
		deadline = st.Deadline.Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO teameval_settings
		(instance_id, enabled, public, fraction, noncompletion_penalty, deadline, autorelease, include_self)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (instance_id) DO UPDATE SET enabled=EXCLUDED.enabled, public=EXCLUDED.public,
			fraction=EXCLUDED.fraction, noncompletion_penalty=EXCLUDED.noncompletion_penalty,
			deadline=EXCLUDED.deadline, autorelease=EXCLUDED.autorelease, include_self=EXCLUDED.include_self`,
		instanceID, st.Enabled, st.Public, st.Fraction, st.NoncompletionPenalty, deadline, st.Autorelease, st.IncludeSelf)
	return err
}

func (s *SQLStore) PutQuestion(ctx context.Context, q Question) (Question, error) {
	cfg := string(q.Config)
	if cfg == "" {
		cfg = "{}"
	}
	if q.ID == 0 {
		err := s.db.QueryRowContext(ctx, `INSERT INTO teameval_questions (instance_id, ordinal, qtype, config_json)
			VALUES ($1,$2,$3,$4) RETURNING id`, q.InstanceID, q.Ordinal, q.Type, cfg).Scan(&q.ID)
		return q, err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO teameval_questions (id, instance_id, ordinal, qtype, config_json)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET ordinal=EXCLUDED.ordinal, qtype=EXCLUDED.qtype, config_json=EXCLUDED.config_json`,
		q.ID, q.InstanceID, q.Ordinal, q.Type, cfg)
	return q, err
}

func (s *SQLStore) Questions(ctx context.Context, instanceID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, instance_id, ordinal, qtype, config_json
		FROM teameval_questions WHERE instance_id=$1 ORDER BY ordinal, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var q Question
		var cfg string
		if err := rows.Scan(&q.ID, &q.InstanceID, &q.Ordinal, &q.Type, &cfg); err != nil {
			return nil, err
		}
		q.Config = []byte(cfg)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveResponse(ctx context.Context, questionID, markerID int64, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO teameval_responses (question_id, marker_id, payload_json)
		VALUES ($1,$2,$3)
		ON CONFLICT (question_id, marker_id) DO UPDATE SET payload_json=EXCLUDED.payload_json`,
		questionID, markerID, string(payload))
	return err
}

func (s *SQLStore) Responses(ctx context.Context, instanceID int64) ([]StoredResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.question_id, r.marker_id, r.payload_json
		FROM teameval_responses r JOIN teameval_questions q ON q.id = r.question_id
		WHERE q.instance_id=$1 ORDER BY r.question_id, r.marker_id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StoredResponse{}
	for rows.Next() {
		var r StoredResponse
		var payload string
		if err := rows.Scan(&r.QuestionID, &r.MarkerID, &payload); err != nil {
			return nil, err
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Releases(ctx context.Context, instanceID int64) ([]Release, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, scope, target_id FROM teameval_releases
		WHERE instance_id=$1 ORDER BY scope, target_id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Release{}
	for rows.Next() {
		var r Release
		if err := rows.Scan(&r.InstanceID, &r.Scope, &r.TargetID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetRelease(ctx context.Context, r Release, active bool) (bool, error) {
	var res sql.Result
	var err error
	if active {
		res, err = s.db.ExecContext(ctx, `INSERT INTO teameval_releases (instance_id, scope, target_id)
			VALUES ($1,$2,$3) ON CONFLICT (instance_id, scope, target_id) DO NOTHING`,
			r.InstanceID, string(r.Scope), r.TargetID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM teameval_releases
			WHERE instance_id=$1 AND scope=$2 AND target_id=$3`,
			r.InstanceID, string(r.Scope), r.TargetID)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) GroupGrade(ctx context.Context, instanceID, groupID int64) (*float64, error) {
	var g sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT grade FROM group_grades WHERE instance_id=$1 AND group_id=$2`,
		instanceID, groupID).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.NullFloat(g), nil
}

func (s *SQLStore) SetGroupGrade(ctx context.Context, instanceID, groupID int64, grade *float64) error {
	if grade == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM group_grades WHERE instance_id=$1 AND group_id=$2`, instanceID, groupID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO group_grades (instance_id, group_id, grade) VALUES ($1,$2,$3)
		ON CONFLICT (instance_id, group_id) DO UPDATE SET grade=EXCLUDED.grade`, instanceID, groupID, *grade)
	return err
}

func (s *SQLStore) AddMember(ctx context.Context, instanceID, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO group_members (instance_id, group_id, user_id) VALUES ($1,$2,$3)
		ON CONFLICT (instance_id, user_id) DO UPDATE SET group_id=EXCLUDED.group_id`, instanceID, groupID, userID)
	return err
}

func (s *SQLStore) MembersOf(ctx context.Context, instanceID, groupID int64) ([]int64, error) {
	return s.userIDs(ctx, `SELECT user_id FROM group_members WHERE instance_id=$1 AND group_id=$2 ORDER BY user_id`, instanceID, groupID)
}

func (s *SQLStore) GroupOf(ctx context.Context, instanceID, userID int64) (int64, error) {
	var gid int64
	err := s.db.QueryRowContext(ctx, `SELECT group_id FROM group_members WHERE instance_id=$1 AND user_id=$2`,
		instanceID, userID).Scan(&gid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return gid, err
}

func (s *SQLStore) Users(ctx context.Context, instanceID int64) ([]int64, error) {
	return s.userIDs(ctx, `SELECT user_id FROM group_members WHERE instance_id=$1 ORDER BY user_id`, instanceID)
}

func (s *SQLStore) userIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
