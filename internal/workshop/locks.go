package workshop

import (
	"context"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/config"
	"github.com/mind-engage/mindengage-peer/internal/metrics"
)

// LockTable serializes recomputes per instance. Different instances never
// contend.
type LockTable struct {
	mode config.LockMode

	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func NewLockTable(mode config.LockMode) *LockTable {
	if mode == "" {
		mode = config.LockWait
	}
	return &LockTable{mode: mode, slots: map[int64]chan struct{}{}}
}

func (t *LockTable) slot(instanceID int64) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.slots[instanceID]
	if !ok {
		ch = make(chan struct{}, 1)
		t.slots[instanceID] = ch
	}
	return ch
}

// Acquire takes the instance lock. In failfast mode a held lock returns
// apperr.ErrConcurrencyConflict at once; in wait mode it blocks until the
// lock frees up or ctx is done.
func (t *LockTable) Acquire(ctx context.Context, instanceID int64) (func(), error) {
	ch := t.slot(instanceID)
	release := func() { <-ch }

	select {
	case ch <- struct{}{}:
		metrics.LockWaits.WithLabelValues("acquired").Inc()
		return release, nil
	default:
	}
	if t.mode == config.LockFailFast {
		metrics.LockWaits.WithLabelValues("rejected").Inc()
		return nil, apperr.New(apperr.ErrConcurrencyConflict, "workshop.lock", nil)
	}
	select {
	case ch <- struct{}{}:
		metrics.LockWaits.WithLabelValues("waited").Inc()
		return release, nil
	case <-ctx.Done():
		metrics.LockWaits.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	}
}
