package messages

import (
	"time"

	"github.com/BearBump/TrackBot/internal/models"
)

// ShipmentUpdated is published by the watch loop for every update notification.
type ShipmentUpdated struct {
	ChatID      int64             `json:"chat_id"`
	Text        string            `json:"text"`
	Actions     [][]models.Action `json:"actions,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

func FromNotification(n models.Notification, at time.Time) ShipmentUpdated {
	return ShipmentUpdated{ChatID: int64(n.ChatID), Text: n.Text, Actions: n.Actions, PublishedAt: at}
}

func (m ShipmentUpdated) Notification() models.Notification {
	return models.Notification{ChatID: models.ChatID(m.ChatID), Text: m.Text, Actions: m.Actions}
}
