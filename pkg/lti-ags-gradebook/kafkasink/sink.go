// Package kafkasink publishes grades as JSON events to a Kafka topic,
// keyed by user id so one user's grades stay ordered within a partition.
package kafkasink

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
)

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// GradeEvent is the message payload. Value is null when no grade exists.
type GradeEvent struct {
	UserID    int64    `json:"userId"`
	ItemID    string   `json:"itemId"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

type Sink struct {
	w   Writer
	now func() time.Time
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func New(w Writer) *Sink { return &Sink{w: w, now: time.Now} }

func (s *Sink) PushGrade(ctx context.Context, userID int64, itemID string, value *float64) error {
	now := s.now().UTC()
	b, err := json.Marshal(GradeEvent{
		UserID:    userID,
		ItemID:    itemID,
		Value:     value,
		Timestamp: now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(userID, 10)),
		Value: b,
		Time:  now,
	})
}

func (s *Sink) Close() error { return s.w.Close() }

var _ gradebook.Sink = (*Sink)(nil)
