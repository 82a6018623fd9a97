package gradebook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type Clock func() time.Time

// Syncer wraps a Sink and records pending/ok/failed for every push, so
// failed pushes can be retried later.
type Syncer struct {
	Store  Store
	Target Sink
	Now    Clock
}

func New(store Store, target Sink, now Clock) *Syncer {
	if now == nil {
		now = time.Now
	}
	return &Syncer{Store: store, Target: target, Now: now}
}

func (s *Syncer) PushGrade(ctx context.Context, userID int64, itemID string, value *float64) error {
	if err := s.Store.MarkSyncPending(ctx, userID, itemID, value, s.Now()); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	if err := s.Target.PushGrade(ctx, userID, itemID, value); err != nil {
		if merr := s.Store.MarkSyncFailed(ctx, userID, itemID, err.Error(), s.Now()); merr != nil {
			return errors.Join(err, merr)
		}
		return err
	}
	return s.Store.MarkSyncOK(ctx, userID, itemID, s.Now())
}

// RetryFailed re-pushes up to limit failed entries and returns how many
// succeeded. Individual failures are recorded, not returned.
func (s *Syncer) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := s.Store.FailedSyncs(ctx, limit)
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, st := range failed {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if s.PushGrade(ctx, st.UserID, st.ItemID, st.Value) == nil {
			ok++
		}
	}
	return ok, nil
}

// AGSSink posts grades as LTI AGS scores. Each item id gets its own line
// item in the collection at LineItemsURL, created on first use.
type AGSSink struct {
	Store        Store
	AGS          AGSClient
	LineItemsURL string
	ScoreMax     float64
	Label        func(itemID string) string
	Now          Clock
}

func NewAGSSink(store Store, ags AGSClient, lineItemsURL string) *AGSSink {
	return &AGSSink{Store: store, AGS: ags, LineItemsURL: lineItemsURL, ScoreMax: 100, Now: time.Now}
}

func (a *AGSSink) EnsureLineItem(ctx context.Context, itemID string) (GradebookLineItem, error) {
	if li, err := a.Store.FindLineItem(ctx, itemID); err == nil && li.LineItemURL != "" {
		return li, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return GradebookLineItem{}, err
	}
	if a.LineItemsURL == "" {
		return GradebookLineItem{}, errors.New("missing lineitems_url")
	}

	items, err := a.AGS.ListLineItems(ctx, a.LineItemsURL, map[string]string{"resource_id": itemID})
	if err == nil {
		for _, it := range items {
			if it.ResourceID == itemID {
				return a.Store.UpsertLineItem(ctx, GradebookLineItem{
					ItemID: itemID, Label: it.Label, ScoreMax: it.ScoreMaximum, LineItemURL: it.ID,
				})
			}
		}
	}
	created, err := a.AGS.CreateLineItem(ctx, a.LineItemsURL, CreateLineItemReq{
		Label: a.label(itemID), ScoreMaximum: a.scoreMax(), ResourceID: itemID,
	})
	if err != nil {
		return GradebookLineItem{}, fmt.Errorf("create line item: %w", err)
	}
	return a.Store.UpsertLineItem(ctx, GradebookLineItem{
		ItemID: itemID, Label: created.Label, ScoreMax: created.ScoreMaximum, LineItemURL: created.ID,
	})
}

// PushGrade scales value (a 0..100 percentage) to the line item maximum.
func (a *AGSSink) PushGrade(ctx context.Context, userID int64, itemID string, value *float64) error {
	li, err := a.EnsureLineItem(ctx, itemID)
	if err != nil {
		return err
	}
	max := li.ScoreMax
	if max <= 0 {
		max = a.scoreMax()
	}
	sc := Score{
		UserID:           strconv.FormatInt(userID, 10),
		ScoreMaximum:     max,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
		Timestamp:        a.now(),
	}
	if value == nil {
		sc.GradingProgress = "Pending"
	} else {
		v := *value * max / 100
		sc.ScoreGiven = &v
	}
	return a.AGS.PostScore(ctx, li.LineItemURL, sc)
}

func (a *AGSSink) label(itemID string) string {
	if a.Label != nil {
		return a.Label(itemID)
	}
	return itemID
}

func (a *AGSSink) scoreMax() float64 {
	if a.ScoreMax > 0 {
		return a.ScoreMax
	}
	return 100
}

func (a *AGSSink) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
