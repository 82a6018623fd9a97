// Package gradebook pushes computed grades to an external gradebook and
// tracks the outcome of every push.
package gradebook

import (
	"context"
	"errors"
	"time"
)

// Sink receives one grade per (user, item). A nil value clears the grade.
type Sink interface {
	PushGrade(ctx context.Context, userID int64, itemID string, value *float64) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, userID int64, itemID string, value *float64) error

func (f SinkFunc) PushGrade(ctx context.Context, userID int64, itemID string, value *float64) error {
	return f(ctx, userID, itemID, value)
}

// Discard drops every grade.
var Discard Sink = SinkFunc(func(context.Context, int64, string, *float64) error { return nil })

var ErrNotFound = errors.New("gradebook: not found")

type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// SyncState is the last known push outcome for one (user, item).
type SyncState struct {
	UserID    int64
	ItemID    string
	Value     *float64
	Status    Status
	Retries   int
	LastError string
	UpdatedAt time.Time
}

// GradebookLineItem maps a local item id to an AGS line item URL.
type GradebookLineItem struct {
	ItemID      string
	Label       string
	ScoreMax    float64
	LineItemURL string
}

// Store persists sync state and line item mappings.
type Store interface {
	MarkSyncPending(ctx context.Context, userID int64, itemID string, value *float64, at time.Time) error
	MarkSyncOK(ctx context.Context, userID int64, itemID string, at time.Time) error
	MarkSyncFailed(ctx context.Context, userID int64, itemID string, lastErr string, at time.Time) error
	SyncState(ctx context.Context, userID int64, itemID string) (SyncState, error)
	FailedSyncs(ctx context.Context, limit int) ([]SyncState, error)

	FindLineItem(ctx context.Context, itemID string) (GradebookLineItem, error)
	UpsertLineItem(ctx context.Context, li GradebookLineItem) (GradebookLineItem, error)
}

// AGS wire types.

type LineItem struct {
	ID           string
	Label        string
	ScoreMaximum float64
	ResourceID   string
}

type CreateLineItemReq struct {
	Label        string
	ScoreMaximum float64
	ResourceID   string
}

type Score struct {
	UserID           string
	ScoreGiven       *float64
	ScoreMaximum     float64
	ActivityProgress string
	GradingProgress  string
	Timestamp        time.Time
}

type AGSClient interface {
	ListLineItems(ctx context.Context, lineItemsURL string, q map[string]string) ([]LineItem, error)
	CreateLineItem(ctx context.Context, lineItemsURL string, req CreateLineItemReq) (LineItem, error)
	PostScore(ctx context.Context, lineItemURL string, s Score) error
}
