package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/BearBump/TrackBot/internal/broker/messages"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const publishAttempts = 3

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// NotificationSink publishes watch-loop notifications instead of sending them.
// Messages are keyed by chat so one chat's updates stay ordered.
type NotificationSink struct {
	pub   Publisher
	topic string
	now   func() time.Time
	retry time.Duration
}

func NewNotificationSink(pub Publisher, topic string) *NotificationSink {
	return &NotificationSink{pub: pub, topic: topic, now: time.Now, retry: 150 * time.Millisecond}
}

func (s *NotificationSink) Notify(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(messages.FromNotification(n, s.now().UTC()))
	if err != nil {
		return errors.Wrap(err, "marshal shipment update")
	}
	key := []byte(strconv.FormatInt(int64(n.ChatID), 10))

	var pubErr error
	for i := 0; i < publishAttempts; i++ {
		if pubErr = s.pub.Publish(ctx, s.topic, key, b); pubErr == nil {
			return nil
		}
		if i == publishAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish shipment update")
		case <-time.After(s.retry * time.Duration(i+1)):
		}
	}
	return errors.Wrap(pubErr, "publish shipment update")
}
