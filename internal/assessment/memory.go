package assessment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

type memoryStore struct {
	mu          sync.RWMutex
	seq         int64
	dimensions  map[int64]Dimension
	submissions map[int64]Submission
	assessments map[int64]Assessment
	grades      map[int64]map[int64]Grade // assessment -> dimension -> grade
}

// NewInMemoryStore returns a Store kept entirely in process memory.
func NewInMemoryStore() Store {
	return &memoryStore{
		dimensions:  map[int64]Dimension{},
		submissions: map[int64]Submission{},
		assessments: map[int64]Assessment{},
		grades:      map[int64]map[int64]Grade{},
	}
}

func (m *memoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *memoryStore) PutDimension(_ context.Context, d Dimension) (Dimension, error) {
	if err := d.Validate(); err != nil {
		return Dimension{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.nextID()
	}
	m.dimensions[d.ID] = d
	return d, nil
}

func (m *memoryStore) Dimensions(_ context.Context, instanceID int64) ([]Dimension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Dimension{}
	for _, d := range m.dimensions {
		if d.InstanceID == instanceID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) PutSubmission(_ context.Context, s Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID()
	}
	m.submissions[s.ID] = s
	return s, nil
}

func (m *memoryStore) GetSubmission(_ context.Context, id int64) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, fmt.Errorf("submission %d: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

func (m *memoryStore) Submissions(_ context.Context, instanceID int64, examples bool) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Submission{}
	for _, s := range m.submissions {
		if s.InstanceID == instanceID && s.IsExample == examples {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) SetSubmissionGrade(_ context.Context, submissionID int64, grade *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return fmt.Errorf("submission %d: %w", submissionID, apperr.ErrNotFound)
	}
	s.Grade = grade
	m.submissions[submissionID] = s
	return nil
}

func (m *memoryStore) SetSubmissionOverride(_ context.Context, submissionID int64, override *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return fmt.Errorf("submission %d: %w", submissionID, apperr.ErrNotFound)
	}
	s.GradeOverride = override
	m.submissions[submissionID] = s
	return nil
}

func (m *memoryStore) Allocate(_ context.Context, instanceID, submissionID, reviewerID int64, weight int) (Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[submissionID]; !ok {
		return Assessment{}, fmt.Errorf("submission %d: %w", submissionID, apperr.ErrNotFound)
	}
	for _, a := range m.assessments {
		if a.SubmissionID == submissionID && a.ReviewerID == reviewerID {
			return a, nil
		}
	}
	a := Assessment{ID: m.nextID(), InstanceID: instanceID, SubmissionID: submissionID, ReviewerID: reviewerID, Weight: weight}
	m.assessments[a.ID] = a
	return a, nil
}

func (m *memoryStore) GetAssessment(_ context.Context, id int64) (Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[id]
	if !ok {
		return Assessment{}, fmt.Errorf("assessment %d: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

func (m *memoryStore) Assessments(_ context.Context, f Filter) ([]Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Assessment{}
	for _, a := range m.assessments {
		if a.InstanceID != f.InstanceID {
			continue
		}
		if f.SubmissionID != 0 && a.SubmissionID != f.SubmissionID {
			continue
		}
		if f.ReviewerID != 0 && a.ReviewerID != f.ReviewerID {
			continue
		}
		if f.Examples != nil && m.submissions[a.SubmissionID].IsExample != *f.Examples {
			continue
		}
		out = append(out, a)
	}
	sortAssessments(out)
	return out, nil
}

func (m *memoryStore) DeleteAssessment(_ context.Context, id int64, onlyIfUngraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assessments[id]; !ok {
		return fmt.Errorf("assessment %d: %w", id, apperr.ErrNotFound)
	}
	if onlyIfUngraded && len(m.grades[id]) > 0 {
		return ErrAssessmentGraded
	}
	delete(m.assessments, id)
	delete(m.grades, id)
	return nil
}

func (m *memoryStore) SaveGrades(_ context.Context, assessmentID int64, grades []Grade, peerGrade *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[assessmentID]
	if !ok {
		return fmt.Errorf("assessment %d: %w", assessmentID, apperr.ErrNotFound)
	}
	byDim := m.grades[assessmentID]
	if byDim == nil {
		byDim = map[int64]Grade{}
		m.grades[assessmentID] = byDim
	}
	for _, g := range grades {
		g.AssessmentID = assessmentID
		byDim[g.DimensionID] = g
	}
	a.PeerGrade = peerGrade
	m.assessments[assessmentID] = a
	return nil
}

func (m *memoryStore) Grades(_ context.Context, assessmentIDs []int64) (map[int64][]Grade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64][]Grade, len(assessmentIDs))
	for _, id := range assessmentIDs {
		gs := make([]Grade, 0, len(m.grades[id]))
		for _, g := range m.grades[id] {
			gs = append(gs, g)
		}
		sort.Slice(gs, func(i, j int) bool { return gs[i].DimensionID < gs[j].DimensionID })
		out[id] = gs
	}
	return out, nil
}

func (m *memoryStore) SetGradingGrades(_ context.Context, grades map[int64]*float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, g := range grades {
		a, ok := m.assessments[id]
		if !ok {
			return fmt.Errorf("assessment %d: %w", id, apperr.ErrNotFound)
		}
		a.GradingGrade = g
		m.assessments[id] = a
	}
	return nil
}

func (m *memoryStore) SetGradingGradeOverride(_ context.Context, assessmentID int64, override *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[assessmentID]
	if !ok {
		return fmt.Errorf("assessment %d: %w", assessmentID, apperr.ErrNotFound)
	}
	a.GradingGradeOverride = override
	m.assessments[assessmentID] = a
	return nil
}

func (m *memoryStore) EachRow(ctx context.Context, instanceID int64, fn func(Row) error) error {
	as, err := m.Assessments(ctx, Filter{InstanceID: instanceID, Examples: Bool(false)})
	if err != nil {
		return err
	}
	for _, a := range as {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(RowOf(a)); err != nil {
			return err
		}
	}
	return nil
}

func sortAssessments(as []Assessment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].SubmissionID != as[j].SubmissionID {
			return as[i].SubmissionID < as[j].SubmissionID
		}
		return as[i].ID < as[j].ID
	})
}
