package assessment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/db"
)

const defaultPageSize = 500

type SQLStore struct {
	db *sql.DB
	// PageSize bounds how many rows EachRow holds in memory at once.
	PageSize int
}

func NewSQLStore(d *sql.DB) *SQLStore {
	return &SQLStore{db: d, PageSize: defaultPageSize}
}

func (s *SQLStore) PutDimension(ctx context.Context, d Dimension) (Dimension, error) {
	if err := d.Validate(); err != nil {
		return Dimension{}, err
	}
	if d.ID == 0 {
		err := s.db.QueryRowContext(ctx, `INSERT INTO dimensions (instance_id,sort_order,title,min_grade,max_grade,weight,scale_items)
			VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			d.InstanceID, d.SortOrder, d.Title, d.Min, d.Max, d.Weight, d.ScaleItems).Scan(&d.ID)
		return d, err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO dimensions (id,instance_id,sort_order,title,min_grade,max_grade,weight,scale_items)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET sort_order=EXCLUDED.sort_order, title=EXCLUDED.title,
			min_grade=EXCLUDED.min_grade, max_grade=EXCLUDED.max_grade, weight=EXCLUDED.weight, scale_items=EXCLUDED.scale_items`,
		d.ID, d.InstanceID, d.SortOrder, d.Title, d.Min, d.Max, d.Weight, d.ScaleItems)
	return d, err
}

func (s *SQLStore) Dimensions(ctx context.Context, instanceID int64) ([]Dimension, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,instance_id,sort_order,title,min_grade,max_grade,weight,scale_items
		FROM dimensions WHERE instance_id=$1 ORDER BY sort_order, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Dimension{}
	for rows.Next() {
		var d Dimension
		if err := rows.Scan(&d.ID, &d.InstanceID, &d.SortOrder, &d.Title, &d.Min, &d.Max, &d.Weight, &d.ScaleItems); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if sub.ID == 0 {
		err := s.db.QueryRowContext(ctx, `INSERT INTO submissions (instance_id,author_id,group_id,is_example,grade,grade_override)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			sub.InstanceID, sub.AuthorID, sub.GroupID, sub.IsExample, db.FloatArg(sub.Grade), db.FloatArg(sub.GradeOverride)).Scan(&sub.ID)
		return sub, err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions (id,instance_id,author_id,group_id,is_example,grade,grade_override)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET author_id=EXCLUDED.author_id, group_id=EXCLUDED.group_id,
			is_example=EXCLUDED.is_example, grade=EXCLUDED.grade, grade_override=EXCLUDED.grade_override`,
		sub.ID, sub.InstanceID, sub.AuthorID, sub.GroupID, sub.IsExample, db.FloatArg(sub.Grade), db.FloatArg(sub.GradeOverride))
	return sub, err
}

const submissionCols = `id,instance_id,author_id,group_id,is_example,grade,grade_override`

func scanSubmission(sc interface{ Scan(...any) error }) (Submission, error) {
	var sub Submission
	var grade, override sql.NullFloat64
	if err := sc.Scan(&sub.ID, &sub.InstanceID, &sub.AuthorID, &sub.GroupID, &sub.IsExample, &grade, &override); err != nil {
		return Submission{}, err
	}
	sub.Grade = db.NullFloat(grade)
	sub.GradeOverride = db.NullFloat(override)
	return sub, nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, fmt.Errorf("submission %d: %w", id, apperr.ErrNotFound)
	}
	return sub, err
}

func (s *SQLStore) Submissions(ctx context.Context, instanceID int64, examples bool) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+submissionCols+` FROM submissions
		WHERE instance_id=$1 AND is_example=$2 ORDER BY id`, instanceID, examples)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetSubmissionGrade(ctx context.Context, submissionID int64, grade *float64) error {
	return s.updateOne(ctx, `UPDATE submissions SET grade=$1 WHERE id=$2`, "submission", submissionID, db.FloatArg(grade))
}

func (s *SQLStore) SetSubmissionOverride(ctx context.Context, submissionID int64, override *float64) error {
	return s.updateOne(ctx, `UPDATE submissions SET grade_override=$1 WHERE id=$2`, "submission", submissionID, db.FloatArg(override))
}

func (s *SQLStore) updateOne(ctx context.Context, query, kind string, id int64, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Allocate(ctx context.Context, instanceID, submissionID, reviewerID int64, weight int) (Assessment, error) {
	if _, err := s.GetSubmission(ctx, submissionID); err != nil {
		return Assessment{}, err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO assessments (instance_id,submission_id,reviewer_id,weight)
		VALUES ($1,$2,$3,$4) ON CONFLICT (submission_id, reviewer_id) DO NOTHING`,
		instanceID, submissionID, reviewerID, weight); err != nil {
		return Assessment{}, err
	}
	return scanAssessment(s.db.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments
		WHERE submission_id=$1 AND reviewer_id=$2`, submissionID, reviewerID))
}

const assessmentCols = `id,instance_id,submission_id,reviewer_id,weight,peer_grade,grading_grade,grading_grade_override`

func scanAssessment(sc interface{ Scan(...any) error }) (Assessment, error) {
	var a Assessment
	var peer, grading, override sql.NullFloat64
	if err := sc.Scan(&a.ID, &a.InstanceID, &a.SubmissionID, &a.ReviewerID, &a.Weight, &peer, &grading, &override); err != nil {
		return Assessment{}, err
	}
	a.PeerGrade = db.NullFloat(peer)
	a.GradingGrade = db.NullFloat(grading)
	a.GradingGradeOverride = db.NullFloat(override)
	return a, nil
}

func (s *SQLStore) GetAssessment(ctx context.Context, id int64) (Assessment, error) {
	a, err := scanAssessment(s.db.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, fmt.Errorf("assessment %d: %w", id, apperr.ErrNotFound)
	}
	return a, err
}

func (s *SQLStore) Assessments(ctx context.Context, f Filter) ([]Assessment, error) {
	where := []string{"a.instance_id=$1"}
	args := []any{f.InstanceID}
	if f.SubmissionID != 0 {
		args = append(args, f.SubmissionID)
		where = append(where, fmt.Sprintf("a.submission_id=$%d", len(args)))
	}
	if f.ReviewerID != 0 {
		args = append(args, f.ReviewerID)
		where = append(where, fmt.Sprintf("a.reviewer_id=$%d", len(args)))
	}
	if f.Examples != nil {
		args = append(args, *f.Examples)
		where = append(where, fmt.Sprintf("s.is_example=$%d", len(args)))
	}
	q := `SELECT a.id,a.instance_id,a.submission_id,a.reviewer_id,a.weight,a.peer_grade,a.grading_grade,a.grading_grade_override
		FROM assessments a JOIN submissions s ON s.id = a.submission_id
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY a.submission_id, a.id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteAssessment(ctx context.Context, id int64, onlyIfUngraded bool) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM assessments WHERE id=$1`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("assessment %d: %w", id, apperr.ErrNotFound)
			}
			return err
		}
		if onlyIfUngraded {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM grades WHERE assessment_id=$1`, id).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return ErrAssessmentGraded
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM grades WHERE assessment_id=$1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM assessments WHERE id=$1`, id)
		return err
	})
}

func (s *SQLStore) SaveGrades(ctx context.Context, assessmentID int64, grades []Grade, peerGrade *float64) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE assessments SET peer_grade=$1 WHERE id=$2`, db.FloatArg(peerGrade), assessmentID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("assessment %d: %w", assessmentID, apperr.ErrNotFound)
		}
		for _, g := range grades {
			if _, err := tx.ExecContext(ctx, `INSERT INTO grades (assessment_id,dimension_id,value,comment)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (assessment_id, dimension_id) DO UPDATE SET value=EXCLUDED.value, comment=EXCLUDED.comment`,
				assessmentID, g.DimensionID, g.Value, g.Comment); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) Grades(ctx context.Context, assessmentIDs []int64) (map[int64][]Grade, error) {
	out := make(map[int64][]Grade, len(assessmentIDs))
	if len(assessmentIDs) == 0 {
		return out, nil
	}
	ph := make([]string, len(assessmentIDs))
	args := make([]any, len(assessmentIDs))
	for i, id := range assessmentIDs {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
		out[id] = []Grade{}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT assessment_id,dimension_id,value,comment FROM grades
		WHERE assessment_id IN (`+strings.Join(ph, ",")+`) ORDER BY assessment_id, dimension_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.AssessmentID, &g.DimensionID, &g.Value, &g.Comment); err != nil {
			return nil, err
		}
		out[g.AssessmentID] = append(out[g.AssessmentID], g)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetGradingGrades(ctx context.Context, grades map[int64]*float64) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		for id, g := range grades {
			if _, err := tx.ExecContext(ctx, `UPDATE assessments SET grading_grade=$1 WHERE id=$2`, db.FloatArg(g), id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) SetGradingGradeOverride(ctx context.Context, assessmentID int64, override *float64) error {
	return s.updateOne(ctx, `UPDATE assessments SET grading_grade_override=$1 WHERE id=$2`, "assessment", assessmentID, db.FloatArg(override))
}

// EachRow pages through the rows with a keyset cursor so that no result set
// stays open while fn runs; fn may write to the same database.
func (s *SQLStore) EachRow(ctx context.Context, instanceID int64, fn func(Row) error) error {
	size := s.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	var lastSub, lastID int64
	for {
		page, err := s.rowPage(ctx, instanceID, lastSub, lastID, size)
		if err != nil {
			return err
		}
		for _, r := range page {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(page) < size {
			return nil
		}
		last := page[len(page)-1]
		lastSub, lastID = last.SubmissionID, last.AssessmentID
	}
}

func (s *SQLStore) rowPage(ctx context.Context, instanceID, afterSub, afterID int64, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.submission_id,a.id,a.reviewer_id,a.weight,a.peer_grade,a.grading_grade,a.grading_grade_override
		FROM assessments a JOIN submissions s ON s.id = a.submission_id
		WHERE a.instance_id=$1 AND s.is_example=$2
		  AND (a.submission_id > $3 OR (a.submission_id = $3 AND a.id > $4))
		ORDER BY a.submission_id, a.id
		LIMIT $5`, instanceID, false, afterSub, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	page := make([]Row, 0, limit)
	for rows.Next() {
		var r Row
		var peer, grading, override sql.NullFloat64
		if err := rows.Scan(&r.SubmissionID, &r.AssessmentID, &r.ReviewerID, &r.Weight, &peer, &grading, &override); err != nil {
			return nil, err
		}
		r.PeerGrade = db.NullFloat(peer)
		r.GradingGrade = db.NullFloat(grading)
		r.GradingGradeOverride = db.NullFloat(override)
		page = append(page, r)
	}
	return page, rows.Err()
}
