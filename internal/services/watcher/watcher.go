package watcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/metrics"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/render"
	"github.com/BearBump/TrackBot/internal/tracking"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Repository interface {
	Get(ctx context.Context, id models.ChatID) (*models.ChatState, bool, error)
	Put(ctx context.Context, st *models.ChatState) error
	Delete(ctx context.Context, id models.ChatID) error
	ListChatIDs(ctx context.Context) ([]models.ChatID, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, code string) ([]byte, error)
}

type Scheduler interface {
	Ensure(id models.ChatID, every time.Duration, job func(ctx context.Context)) bool
	Replace(id models.ChatID, every time.Duration, job func(ctx context.Context))
	Cancel(id models.ChatID) bool
	Len() int
}

// Sink delivers notifications produced by the watch loop.
type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Service struct {
	repo    Repository
	fetcher Fetcher
	sched   Scheduler
	sink    Sink
	log     zerolog.Logger
	metrics metrics.Recorder

	defaultInterval int

	locksMu sync.Mutex
	locks   map[models.ChatID]*sync.Mutex

	startedAt     time.Time
	lastTickNano  atomic.Int64
	ticks         atomic.Int64
	checked       atomic.Int64
	notifications atomic.Int64
	failures      atomic.Int64
	lastErrorMu   sync.Mutex
	lastError     string
}

func New(repo Repository, fetcher Fetcher, sched Scheduler, sink Sink, log zerolog.Logger) *Service {
	return &Service{
		repo:            repo,
		fetcher:         fetcher,
		sched:           sched,
		sink:            sink,
		log:             logger.Component(log, "watcher"),
		metrics:         metrics.Noop{},
		defaultInterval: models.DefaultIntervalMinutes,
		locks:           map[models.ChatID]*sync.Mutex{},
		startedAt:       time.Now().UTC(),
	}
}

// WithDefaultInterval sets the interval used by chats that never chose one.
func (s *Service) WithDefaultInterval(minutes int) *Service {
	if models.ValidInterval(minutes) {
		s.defaultInterval = minutes
	}
	return s
}

func (s *Service) WithMetrics(m metrics.Recorder) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

func (s *Service) chatLock(id models.ChatID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// load returns the stored state or a fresh one. Callers hold the chat lock.
func (s *Service) load(ctx context.Context, id models.ChatID) (*models.ChatState, error) {
	st, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load chat state")
	}
	if !ok {
		return models.NewChatState(id, s.defaultInterval), nil
	}
	if !models.ValidInterval(st.IntervalMinutes) {
		st.IntervalMinutes = s.defaultInterval
	}
	return st, nil
}

func (s *Service) job(id models.ChatID) func(ctx context.Context) {
	return func(ctx context.Context) { s.Tick(ctx, id) }
}

func every(minutes int) time.Duration { return time.Duration(minutes) * time.Minute }

func (s *Service) syncTaskGauge() { s.metrics.SetActiveTasks(s.sched.Len()) }

// LookupResult is the latest state of one shipment.
type LookupResult struct {
	Code       string
	Alias      string
	ShipmentID string
	Latest     models.TrackingEvent
}

func (r LookupResult) Notification(id models.ChatID) models.Notification {
	return models.Notification{ChatID: id, Text: render.Card(r.Code, r.Alias, r.Latest), Actions: render.Actions(r.Code)}
}

type AddResult struct {
	Lookup    LookupResult
	LookupErr error
}

// Add starts watching code in the chat. The returned error covers only the
// subscription itself; a failed first lookup is reported in AddResult.
func (s *Service) Add(ctx context.Context, id models.ChatID, rawCode, alias string) (AddResult, error) {
	code := models.NormalizeCode(rawCode)
	alias = strings.TrimSpace(alias)
	if !models.ValidTrackingCode(code) {
		return AddResult{}, models.ErrInvalidCode
	}
	if alias == "" {
		return AddResult{}, models.Validation("alias is required")
	}

	mu := s.chatLock(id)
	mu.Lock()
	st, err := s.load(ctx, id)
	if err != nil {
		mu.Unlock()
		return AddResult{}, err
	}
	if _, ok := st.Find(code); ok {
		mu.Unlock()
		return AddResult{}, models.ErrAlreadyWatched
	}
	st.Subscriptions = append(st.Subscriptions, models.Subscription{TrackingCode: code, Alias: alias})
	if err := s.repo.Put(ctx, st); err != nil {
		mu.Unlock()
		return AddResult{}, errors.Wrap(err, "save chat state")
	}
	// schedule before unlocking so a concurrent Remove cannot cancel first
	s.sched.Ensure(id, every(st.IntervalMinutes), s.job(id))
	s.syncTaskGauge()
	mu.Unlock()
	s.log.Info().Int64("chat", int64(id)).Str("code", code).Msg("shipment added")

	res := AddResult{Lookup: LookupResult{Code: code, Alias: alias}}
	shipmentID, latest, err := s.latest(ctx, code)
	if err != nil {
		res.LookupErr = err
		return res, nil
	}
	res.Lookup.ShipmentID = shipmentID
	res.Lookup.Latest = latest

	// the first card counts as notified
	mu.Lock()
	defer mu.Unlock()
	st, err = s.load(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat", int64(id)).Msg("record first lookup")
		return res, nil
	}
	if sub, ok := st.Find(code); ok && sub.Advance(latest.Timestamp) {
		if err := s.repo.Put(ctx, st); err != nil {
			s.log.Warn().Err(err).Int64("chat", int64(id)).Msg("record first lookup")
		}
	}
	return res, nil
}

func (s *Service) Remove(ctx context.Context, id models.ChatID, rawCode string) (models.Subscription, error) {
	code := models.NormalizeCode(rawCode)

	mu := s.chatLock(id)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return models.Subscription{}, err
	}
	removed, ok := st.Remove(code)
	if !ok {
		return models.Subscription{}, models.ErrNotWatched
	}

	if len(st.Subscriptions) == 0 {
		s.sched.Cancel(id)
		s.syncTaskGauge()
		if st.IntervalMinutes == s.defaultInterval {
			err = s.repo.Delete(ctx, id)
		} else {
			err = s.repo.Put(ctx, st)
		}
	} else {
		err = s.repo.Put(ctx, st)
	}
	if err != nil {
		return models.Subscription{}, errors.Wrap(err, "save chat state")
	}
	s.log.Info().Int64("chat", int64(id)).Str("code", code).Msg("shipment removed")
	return removed, nil
}

func (s *Service) Rename(ctx context.Context, id models.ChatID, rawCode, alias string) error {
	code := models.NormalizeCode(rawCode)
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return models.Validation("alias is required")
	}

	mu := s.chatLock(id)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sub, ok := st.Find(code)
	if !ok {
		return models.ErrNotWatched
	}
	sub.Alias = alias
	return errors.Wrap(s.repo.Put(ctx, st), "save chat state")
}

// List returns the chat's subscriptions in insertion order.
func (s *Service) List(ctx context.Context, id models.ChatID) ([]models.Subscription, error) {
	mu := s.chatLock(id)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Clone().Subscriptions, nil
}

func (s *Service) Interval(ctx context.Context, id models.ChatID) (int, error) {
	mu := s.chatLock(id)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return st.IntervalMinutes, nil
}

func (s *Service) SetInterval(ctx context.Context, id models.ChatID, minutes int) error {
	if !models.ValidInterval(minutes) {
		return models.ErrInvalidInterval
	}

	mu := s.chatLock(id)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	st.IntervalMinutes = minutes
	if err := s.repo.Put(ctx, st); err != nil {
		return errors.Wrap(err, "save chat state")
	}
	if len(st.Subscriptions) > 0 {
		s.sched.Replace(id, every(minutes), s.job(id))
		s.syncTaskGauge()
	}
	s.log.Info().Int64("chat", int64(id)).Int("minutes", minutes).Msg("interval changed")
	return nil
}

func (s *Service) latest(ctx context.Context, code string) (string, models.TrackingEvent, error) {
	payload, err := s.fetcher.Fetch(ctx, code)
	if err != nil {
		return "", models.TrackingEvent{}, err
	}
	shipmentID, events, err := tracking.Parse(payload)
	if err != nil {
		return "", models.TrackingEvent{}, err
	}
	latest, _ := tracking.PickLatest(events)
	return shipmentID, latest, nil
}

// Lookup fetches the latest event of code. The alias comes from the chat's
// subscription when there is one.
func (s *Service) Lookup(ctx context.Context, id models.ChatID, rawCode string) (LookupResult, error) {
	code := models.NormalizeCode(rawCode)
	if !models.ValidTrackingCode(code) {
		return LookupResult{}, models.ErrInvalidCode
	}

	res := LookupResult{Code: code}
	mu := s.chatLock(id)
	mu.Lock()
	if st, ok, err := s.repo.Get(ctx, id); err == nil && ok {
		if sub, found := st.Find(code); found {
			res.Alias = sub.Alias
		}
	}
	mu.Unlock()

	shipmentID, latest, err := s.latest(ctx, code)
	if err != nil {
		return LookupResult{}, err
	}
	res.ShipmentID = shipmentID
	res.Latest = latest
	return res, nil
}

type TimelineResult struct {
	Code       string
	ShipmentID string
	Events     []models.TrackingEvent
}

func (r TimelineResult) Notification(id models.ChatID) models.Notification {
	return models.Notification{ChatID: id, Text: render.Timeline(r.Code, r.Events), Actions: render.Actions(r.Code)}
}

// Timeline returns up to n most recent events, newest first.
func (s *Service) Timeline(ctx context.Context, rawCode string, n int) (TimelineResult, error) {
	code := models.NormalizeCode(rawCode)
	if !models.ValidTrackingCode(code) {
		return TimelineResult{}, models.ErrInvalidCode
	}
	payload, err := s.fetcher.Fetch(ctx, code)
	if err != nil {
		return TimelineResult{}, err
	}
	shipmentID, events, err := tracking.Parse(payload)
	if err != nil {
		return TimelineResult{}, err
	}
	return TimelineResult{Code: code, ShipmentID: shipmentID, Events: tracking.PickRecent(events, n)}, nil
}

// Restore schedules every persisted chat that still has subscriptions.
func (s *Service) Restore(ctx context.Context) (int, error) {
	ids, err := s.repo.ListChatIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list chats")
	}
	restored := 0
	for _, id := range ids {
		st, ok, err := s.repo.Get(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Int64("chat", int64(id)).Msg("restore chat")
			continue
		}
		if !ok || len(st.Subscriptions) == 0 {
			continue
		}
		interval := st.IntervalMinutes
		if !models.ValidInterval(interval) {
			interval = s.defaultInterval
		}
		if s.sched.Ensure(id, every(interval), s.job(id)) {
			restored++
		}
	}
	s.syncTaskGauge()
	s.log.Info().Int("chats", restored).Msg("watch tasks restored")
	return restored, nil
}
