package calibration

import (
	"context"
	"fmt"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// Store persists calibration settings and scores per evaluation instance.
type Store interface {
	Settings(ctx context.Context, instanceID int64) (Settings, error)
	SaveSettings(ctx context.Context, instanceID int64, s Settings) error
	// ReplaceScores swaps the instance's whole score set in one step.
	ReplaceScores(ctx context.Context, instanceID int64, scores map[int64]float64) error
	Scores(ctx context.Context, instanceID int64) (map[int64]float64, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	settings map[int64]Settings
	scores   map[int64]map[int64]float64
}

func NewInMemoryStore() Store {
	return &memoryStore{settings: map[int64]Settings{}, scores: map[int64]map[int64]float64{}}
}

func (m *memoryStore) Settings(_ context.Context, instanceID int64) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[instanceID]
	if !ok {
		return Settings{}, fmt.Errorf("calibration settings for instance %d: %w", instanceID, apperr.ErrNotFound)
	}
	return s, nil
}

func (m *memoryStore) SaveSettings(_ context.Context, instanceID int64, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[instanceID] = s
	return nil
}

func (m *memoryStore) ReplaceScores(_ context.Context, instanceID int64, scores map[int64]float64) error {
	cp := make(map[int64]float64, len(scores))
	for k, v := range scores {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[instanceID] = cp
	return nil
}

func (m *memoryStore) Scores(_ context.Context, instanceID int64) (map[int64]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]float64, len(m.scores[instanceID]))
	for k, v := range m.scores[instanceID] {
		out[k] = v
	}
	return out, nil
}
