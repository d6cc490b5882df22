package kafka

import (
	"context"
	"time"

	"github.com/BearBump/TrackBot/internal/broker/messages"
	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type MessageConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// Deliverer sends a notification to its chat.
type Deliverer interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Relay moves published shipment updates to the chat transport.
type Relay struct {
	consumer MessageConsumer
	out      Deliverer
	log      zerolog.Logger
	backoff  time.Duration
}

func NewRelay(consumer MessageConsumer, out Deliverer, log zerolog.Logger) *Relay {
	return &Relay{
		consumer: consumer,
		out:      out,
		log:      logger.Component(log, "relay"),
		backoff:  time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.consumer.Consume(ctx, r.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().Err(err).Msg("consume stopped, restarting")

		t := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Relay) handle(key, value []byte) error {
	var msg messages.ShipmentUpdated
	if err := json.Unmarshal(value, &msg); err != nil {
		// unreadable messages are dropped so they cannot block the partition
		r.log.Error().Err(err).Bytes("key", key).Msg("bad shipment update")
		return nil
	}
	if msg.ChatID == 0 {
		r.log.Error().Bytes("key", key).Msg("shipment update without chat")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.out.Notify(ctx, msg.Notification()); err != nil {
		return errors.Wrap(err, "deliver shipment update")
	}
	return nil
}
