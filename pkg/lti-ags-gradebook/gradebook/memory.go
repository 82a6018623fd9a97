package gradebook

import (
	"context"
	"sort"
	"sync"
	"time"
)

type syncKey struct {
	user int64
	item string
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[syncKey]SyncState
	lineItems map[string]GradebookLineItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    map[syncKey]SyncState{},
		lineItems: map[string]GradebookLineItem{},
	}
}

func (m *MemoryStore) MarkSyncPending(_ context.Context, userID int64, itemID string, value *float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := syncKey{userID, itemID}
	st := m.states[k]
	st.UserID, st.ItemID, st.Status, st.UpdatedAt = userID, itemID, StatusPending, at
	if value != nil {
		v := *value
		st.Value = &v
	} else {
		st.Value = nil
	}
	m.states[k] = st
	return nil
}

func (m *MemoryStore) MarkSyncOK(_ context.Context, userID int64, itemID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := syncKey{userID, itemID}
	st, ok := m.states[k]
	if !ok {
		return ErrNotFound
	}
	st.Status, st.LastError, st.UpdatedAt = StatusOK, "", at
	m.states[k] = st
	return nil
}

func (m *MemoryStore) MarkSyncFailed(_ context.Context, userID int64, itemID string, lastErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := syncKey{userID, itemID}
	st := m.states[k]
	st.UserID, st.ItemID = userID, itemID
	st.Status, st.LastError, st.UpdatedAt = StatusFailed, lastErr, at
	st.Retries++
	m.states[k] = st
	return nil
}

func (m *MemoryStore) SyncState(_ context.Context, userID int64, itemID string) (SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[syncKey{userID, itemID}]
	if !ok {
		return SyncState{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) FailedSyncs(_ context.Context, limit int) ([]SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SyncState
	for _, st := range m.states {
		if st.Status == StatusFailed {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ItemID < out[j].ItemID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) FindLineItem(_ context.Context, itemID string) (GradebookLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.lineItems[itemID]
	if !ok {
		return GradebookLineItem{}, ErrNotFound
	}
	return li, nil
}

func (m *MemoryStore) UpsertLineItem(_ context.Context, li GradebookLineItem) (GradebookLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineItems[li.ItemID] = li
	return li, nil
}
