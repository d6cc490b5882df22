package watcher

import (
	"context"
	"time"

	"github.com/BearBump/TrackBot/internal/metrics"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/render"
	"github.com/BearBump/TrackBot/internal/tracking"
)

type TickReport struct {
	ChatID   models.ChatID `json:"chatId"`
	Checked  int           `json:"checked"`
	Notified int           `json:"notified"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

// Tick polls every subscription of the chat once and notifies about shipments
// whose latest event is newer than the last one reported.
func (s *Service) Tick(ctx context.Context, id models.ChatID) TickReport {
	started := time.Now()
	s.lastTickNano.Store(started.UTC().UnixNano())
	s.ticks.Add(1)
	rep := TickReport{ChatID: id}
	defer func() {
		rep.Took = time.Since(started)
		s.metrics.ObserveTick(rep.Took)
	}()

	mu := s.chatLock(id)
	mu.Lock()
	st, ok, err := s.repo.Get(ctx, id)
	mu.Unlock()
	if err != nil {
		s.recordFailure(err)
		s.log.Error().Err(err).Int64("chat", int64(id)).Msg("tick: load chat state")
		return rep
	}
	if !ok {
		return rep
	}
	snapshot := st.Clone().Subscriptions

	for _, sub := range snapshot {
		if ctx.Err() != nil {
			return rep
		}
		rep.Checked++
		s.checked.Add(1)

		sent, err := s.checkOne(ctx, id, sub.TrackingCode)
		if err != nil {
			rep.Failed++
			s.recordFailure(err)
			s.log.Warn().Err(err).Int64("chat", int64(id)).Str("code", sub.TrackingCode).
				Str("kind", string(models.KindOf(err))).Msg("tick: shipment skipped")
			continue
		}
		if sent {
			rep.Notified++
		}
	}
	return rep
}

func (s *Service) checkOne(ctx context.Context, id models.ChatID, code string) (bool, error) {
	payload, err := s.fetcher.Fetch(ctx, code)
	if err != nil {
		return false, err
	}
	_, events, err := tracking.Parse(payload)
	if err != nil {
		return false, err
	}

	mu := s.chatLock(id)
	mu.Lock()
	st, ok, err := s.repo.Get(ctx, id)
	if err != nil || !ok {
		mu.Unlock()
		return false, err
	}
	sub, found := st.Find(code)
	if !found {
		// removed while we were fetching
		mu.Unlock()
		return false, nil
	}
	latest, hw, changed := tracking.Evaluate(sub.LastNotifiedTS, events)
	if !changed {
		mu.Unlock()
		return false, nil
	}
	sub.Advance(hw)
	alias := sub.Alias
	if err := s.repo.Put(ctx, st); err != nil {
		mu.Unlock()
		return false, err
	}
	mu.Unlock()

	n := models.Notification{
		ChatID:  id,
		Text:    render.UpdateCard(code, alias, latest),
		Actions: render.Actions(code),
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		s.metrics.IncNotifications(metrics.OutcomeError)
		return false, err
	}
	s.metrics.IncNotifications(metrics.OutcomeOK)
	s.notifications.Add(1)
	return true, nil
}

// Trigger runs one tick for the chat right away.
func (s *Service) Trigger(ctx context.Context, id models.ChatID) TickReport {
	return s.Tick(ctx, id)
}

func (s *Service) recordFailure(err error) {
	s.failures.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastTickAt    *time.Time `json:"lastTickAt,omitempty"`
	ActiveTasks   int        `json:"activeTasks"`
	Ticks         int64      `json:"ticks"`
	Checked       int64      `json:"checked"`
	Notifications int64      `json:"notifications"`
	Failures      int64      `json:"failures"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		StartedAt:     s.startedAt,
		ActiveTasks:   s.sched.Len(),
		Ticks:         s.ticks.Load(),
		Checked:       s.checked.Load(),
		Notifications: s.notifications.Load(),
		Failures:      s.failures.Load(),
	}
	if n := s.lastTickNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTickAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}
