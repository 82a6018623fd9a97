// Package syncx keeps the append-only audit log of recompute runs and
// release toggles.
package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCalibrationRecomputed = "calibration.recomputed"
	TypeGradesRecomputed      = "grades.recomputed"
	TypeReleaseToggled        = "release.toggled"
	TypeGradesPushed          = "gradebook.pushed"
)

type Event struct {
	Seq    int64  `json:"seq"`
	SiteID string `json:"site_id"`
	Type   string `json:"type"`
	// Key identifies the run; NewRunID gives a fresh one.
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// NewRunID returns a unique key for one recompute or toggle.
func NewRunID() string { return uuid.NewString() }

// NewEvent marshals data into an Event of the given type.
func NewEvent(typ, key string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return Event{SiteID: "local", Type: typ, Key: key, Data: raw}, nil
}

type EventRepo struct {
	db  *sql.DB
	Now func() time.Time
}

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db, Now: time.Now} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = "local"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, event_key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, string(e.Data), r.Now().Unix())
	return err
}

// Recent returns up to limit events newest first; typ "" matches all.
func (r *EventRepo) Recent(ctx context.Context, typ string, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, event_key, data, created_at FROM event_log
		 WHERE ($1 = '' OR typ = $1) ORDER BY seq DESC LIMIT $2`, typ, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
