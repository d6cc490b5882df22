package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/TrackBot/internal/broker/messages"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last  []kafka.Message
	err   error
	calls int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "t", fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
}

func TestNotificationSink_PublishesKeyedByChat(t *testing.T) {
	fw := &fakeWriter{}
	sink := NewNotificationSink(newProducerWithWriter(fw), "trackbot.notifications")
	sink.now = func() time.Time { return time.Unix(100, 0) }

	n := models.Notification{
		ChatID:  -1001,
		Text:    "📣 <b>Có cập nhật mới</b>",
		Actions: [][]models.Action{{{Label: "🔄 Refresh", Data: "refresh|SPXVN1"}}},
	}
	require.NoError(t, sink.Notify(context.Background(), n))
	require.Len(t, fw.last, 1)
	require.Equal(t, "trackbot.notifications", fw.last[0].Topic)
	require.Equal(t, "-1001", string(fw.last[0].Key))

	var msg messages.ShipmentUpdated
	require.NoError(t, json.Unmarshal(fw.last[0].Value, &msg))
	require.Equal(t, n, msg.Notification())
	require.True(t, msg.PublishedAt.Equal(time.Unix(100, 0)))
}

func TestNotificationSink_RetriesThenFails(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	sink := NewNotificationSink(newProducerWithWriter(fw), "t")
	sink.retry = time.Millisecond

	err := sink.Notify(context.Background(), models.Notification{ChatID: 1, Text: "x"})
	require.ErrorIs(t, err, fw.err)
	require.ErrorContains(t, err, "publish shipment update")
	require.Equal(t, publishAttempts, fw.calls)
}

func TestNotificationSink_NoBackoffAfterLastAttempt(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	sink := NewNotificationSink(newProducerWithWriter(fw), "t")
	sink.retry = 300 * time.Millisecond

	// backoffs between attempts are 300ms and 600ms; a third one would add 900ms
	start := time.Now()
	require.Error(t, sink.Notify(context.Background(), models.Notification{ChatID: 1, Text: "x"}))
	require.Less(t, time.Since(start), 1500*time.Millisecond)
	require.Equal(t, publishAttempts, fw.calls)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
}
