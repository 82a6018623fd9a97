package teameval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

type Scope string

const (
	ScopeAll   Scope = "ALL"
	ScopeGroup Scope = "GROUP"
	ScopeUser  Scope = "USER"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeGroup, ScopeUser:
		return true
	}
	return false
}

// Release makes marks visible for its scope. TargetID is 0 for ScopeAll,
// a group id for ScopeGroup and a user id for ScopeUser.
type Release struct {
	InstanceID int64 `json:"instance_id"`
	Scope      Scope `json:"scope"`
	TargetID   int64 `json:"target_id"`
}

// StoredResponse is a response as persisted, before decoding.
type StoredResponse struct {
	QuestionID int64
	MarkerID   int64
	Payload    []byte
}

type Store interface {
	Settings(ctx context.Context, instanceID int64) (Settings, error)
	SaveSettings(ctx context.Context, instanceID int64, s Settings) error

	PutQuestion(ctx context.Context, q Question) (Question, error)
	Questions(ctx context.Context, instanceID int64) ([]Question, error)

	SaveResponse(ctx context.Context, questionID, markerID int64, payload []byte) error
	Responses(ctx context.Context, instanceID int64) ([]StoredResponse, error)

	Releases(ctx context.Context, instanceID int64) ([]Release, error)
	// SetRelease inserts the release when active and deletes it otherwise.
	// It reports false when the row was already in the requested state.
	SetRelease(ctx context.Context, r Release, active bool) (bool, error)

	GroupGrade(ctx context.Context, instanceID, groupID int64) (*float64, error)
	SetGroupGrade(ctx context.Context, instanceID, groupID int64, grade *float64) error
}

// Groups is the group membership provider.
type Groups interface {
	MembersOf(ctx context.Context, instanceID, groupID int64) ([]int64, error)
	// GroupOf returns 0 for a user outside every group.
	GroupOf(ctx context.Context, instanceID, userID int64) (int64, error)
	Users(ctx context.Context, instanceID int64) ([]int64, error)
}

// MemoryStore keeps team evaluation data and group membership in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	settings  map[int64]Settings
	questions map[int64]Question
	responses map[[2]int64][]byte // (question, marker)
	releases  map[Release]struct{}
	grades    map[[2]int64]float64 // (instance, group)
	members   map[[2]int64]int64   // (instance, user) -> group
}

// NewInMemoryStore returns a Store that also serves as the Groups provider.
func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:  map[int64]Settings{},
		questions: map[int64]Question{},
		responses: map[[2]int64][]byte{},
		releases:  map[Release]struct{}{},
		grades:    map[[2]int64]float64{},
		members:   map[[2]int64]int64{},
	}
}

func (m *MemoryStore) Settings(_ context.Context, instanceID int64) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[instanceID]
	if !ok {
		return Settings{}, fmt.Errorf("team evaluation settings for instance %d: %w", instanceID, apperr.ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, instanceID int64, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[instanceID] = s
	return nil
}

func (m *MemoryStore) PutQuestion(_ context.Context, q Question) (Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == 0 {
		m.seq++
		q.ID = m.seq
	}
	m.questions[q.ID] = q
	return q, nil
}

func (m *MemoryStore) Questions(_ context.Context, instanceID int64) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Question{}
	for _, q := range m.questions {
		if q.InstanceID == instanceID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveResponse(_ context.Context, questionID, markerID int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[questionID]; !ok {
		return fmt.Errorf("question %d: %w", questionID, apperr.ErrNotFound)
	}
	m.responses[[2]int64{questionID, markerID}] = append([]byte(nil), payload...)
	return nil
}

func (m *MemoryStore) Responses(_ context.Context, instanceID int64) ([]StoredResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []StoredResponse{}
	for k, p := range m.responses {
		if m.questions[k[0]].InstanceID == instanceID {
			out = append(out, StoredResponse{QuestionID: k[0], MarkerID: k[1], Payload: p})
		}
	}
	return out, nil
}

func (m *MemoryStore) Releases(_ context.Context, instanceID int64) ([]Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Release{}
	for r := range m.releases {
		if r.InstanceID == instanceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetRelease(_ context.Context, r Release, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.releases[r]
	switch {
	case active && !exists:
		m.releases[r] = struct{}{}
		return true, nil
	case !active && exists:
		delete(m.releases, r)
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) GroupGrade(_ context.Context, instanceID, groupID int64) (*float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grades[[2]int64{instanceID, groupID}]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *MemoryStore) SetGroupGrade(_ context.Context, instanceID, groupID int64, grade *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grade == nil {
		delete(m.grades, [2]int64{instanceID, groupID})
		return nil
	}
	m.grades[[2]int64{instanceID, groupID}] = *grade
	return nil
}

// AddMember puts userID into groupID, leaving any previous group.
func (m *MemoryStore) AddMember(_ context.Context, instanceID, groupID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[[2]int64{instanceID, userID}] = groupID
	return nil
}

func (m *MemoryStore) MembersOf(_ context.Context, instanceID, groupID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []int64{}
	for k, g := range m.members {
		if k[0] == instanceID && g == groupID {
			out = append(out, k[1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryStore) GroupOf(_ context.Context, instanceID, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[[2]int64{instanceID, userID}], nil
}

func (m *MemoryStore) Users(_ context.Context, instanceID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []int64{}
	for k := range m.members {
		if k[0] == instanceID {
			out = append(out, k[1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
