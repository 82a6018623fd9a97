package calibration

import (
	"context"
	"sync"
)

// ScoreCache is a read-through cache of per-instance score sets in front of
// a Store. The engine invalidates an instance after every recompute.
type ScoreCache struct {
	store Store

	mu    sync.RWMutex
	byIns map[int64]map[int64]float64
}

func NewScoreCache(store Store) *ScoreCache {
	return &ScoreCache{store: store, byIns: map[int64]map[int64]float64{}}
}

// Scores returns the instance's scores. Callers must not modify the map.
func (c *ScoreCache) Scores(ctx context.Context, instanceID int64) (map[int64]float64, error) {
	c.mu.RLock()
	s, ok := c.byIns[instanceID]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := c.store.Scores(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byIns[instanceID] = s
	c.mu.Unlock()
	return s, nil
}

// Score returns one reviewer's score; a reviewer without a row scores 0.
func (c *ScoreCache) Score(ctx context.Context, instanceID, userID int64) (float64, error) {
	s, err := c.Scores(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	return s[userID], nil
}

func (c *ScoreCache) Invalidate(instanceID int64) {
	c.mu.Lock()
	delete(c.byIns, instanceID)
	c.mu.Unlock()
}
