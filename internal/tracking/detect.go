package tracking

import "github.com/BearBump/TrackBot/internal/models"

// Evaluate reports whether events contain something newer than lastTS. When they
// do it returns the latest event and the new high-water mark.
func Evaluate(lastTS int64, events []models.TrackingEvent) (models.TrackingEvent, int64, bool) {
	latest, ok := PickLatest(events)
	if !ok || latest.Timestamp <= lastTS {
		return models.TrackingEvent{}, lastTS, false
	}
	return latest, latest.Timestamp, true
}
