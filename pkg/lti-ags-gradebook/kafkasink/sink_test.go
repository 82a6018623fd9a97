package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestSink_PublishesKeyedEvent(t *testing.T) {
	w := &recordingWriter{}
	s := New(w)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	v := 88.5
	require.NoError(t, s.PushGrade(context.Background(), 42, "7:submission", &v))
	require.NoError(t, s.PushGrade(context.Background(), 43, "7:submission", nil))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "42", string(w.msgs[0].Key))
	var ev GradeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, "7:submission", ev.ItemID)
	require.NotNil(t, ev.Value)
	assert.InDelta(t, 88.5, *ev.Value, 1e-9)
	assert.Equal(t, "2026-01-02T03:04:05Z", ev.Timestamp)

	assert.Contains(t, string(w.msgs[1].Value), `"value":null`)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestSink_PropagatesWriteError(t *testing.T) {
	s := New(&recordingWriter{err: errors.New("broker unavailable")})
	assert.EqualError(t, s.PushGrade(context.Background(), 1, "1:teameval", nil), "broker unavailable")
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "peer-grades")
	assert.Equal(t, "peer-grades", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
