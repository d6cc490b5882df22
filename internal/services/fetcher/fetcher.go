package fetcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackBot/internal/cache"
	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/metrics"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL         = 20 * time.Second
	DefaultConcurrency = 8

	keyPrefix     = "spx:"
	budgetKey     = "rl:spx:"
	budgetWindow  = 70 * time.Second
	budgetBackoff = 500 * time.Millisecond
)

type Upstream interface {
	Fetch(ctx context.Context, code string) ([]byte, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Fetcher serves raw tracking payloads through a TTL cache. Cache misses go to the
// upstream through a process-wide semaphore.
type Fetcher struct {
	upstream Upstream
	store    cache.BytesCache
	log      zerolog.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	ttl time.Duration
	sem chan struct{}

	rl              RateLimiter
	budgetPerMinute int64

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
	inFlight atomic.Int64
}

func New(upstream Upstream, store cache.BytesCache, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		upstream: upstream,
		store:    store,
		log:      logger.Component(log, "fetcher"),
		metrics:  metrics.Noop{},
		now:      time.Now,
		ttl:      DefaultTTL,
		sem:      make(chan struct{}, DefaultConcurrency),
	}
}

func (f *Fetcher) WithSettings(ttl time.Duration, concurrency int) *Fetcher {
	if ttl > 0 {
		f.ttl = ttl
	}
	if concurrency > 0 {
		f.sem = make(chan struct{}, concurrency)
	}
	return f
}

func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

func (f *Fetcher) WithMetrics(m metrics.Recorder) *Fetcher {
	if m != nil {
		f.metrics = m
	}
	return f
}

// WithBudget caps upstream calls per minute across every process sharing rl.
func (f *Fetcher) WithBudget(rl RateLimiter, perMinute int64) *Fetcher {
	f.rl = rl
	f.budgetPerMinute = perMinute
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, code string) ([]byte, error) {
	key := keyPrefix + code

	if payload, ok := f.cached(ctx, key); ok {
		f.hits.Add(1)
		f.metrics.IncCacheHits()
		return payload, nil
	}
	f.misses.Add(1)
	f.metrics.IncCacheMisses()

	payload, err := f.fetchUpstream(ctx, code)
	if err != nil {
		f.failures.Add(1)
		return nil, err
	}

	if err := f.store.Set(ctx, key, cache.EncodeEntry(f.now(), payload), 0); err != nil {
		f.log.Warn().Err(err).Str("code", code).Msg("cache store failed")
	}
	return payload, nil
}

func (f *Fetcher) cached(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := f.store.Get(ctx, key)
	if err != nil {
		f.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	fetchedAt, payload, ok := cache.DecodeEntry(raw)
	if !ok {
		return nil, false
	}
	if f.now().Sub(fetchedAt) > f.ttl {
		return nil, false
	}
	return payload, true
}

func (f *Fetcher) fetchUpstream(ctx context.Context, code string) ([]byte, error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, models.Upstream("wait for fetch slot", ctx.Err())
	}
	f.inFlight.Add(1)
	defer func() {
		f.inFlight.Add(-1)
		<-f.sem
	}()

	if err := f.spendBudget(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	payload, err := f.upstream.Fetch(ctx, code)
	f.metrics.ObserveUpstream(time.Since(started))
	if err != nil {
		f.metrics.IncUpstream(metrics.OutcomeError)
		if models.KindOf(err) == models.KindUnknown {
			err = models.Upstream("fetch "+code, err)
		}
		return nil, err
	}
	f.metrics.IncUpstream(metrics.OutcomeOK)
	return payload, nil
}

func (f *Fetcher) spendBudget(ctx context.Context) error {
	if f.rl == nil || f.budgetPerMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s%s", budgetKey, f.now().UTC().Format("200601021504"))
	allowed, n, err := f.rl.Allow(ctx, key, f.budgetPerMinute, budgetWindow)
	if err != nil {
		f.log.Warn().Err(errors.Wrap(err, "upstream budget")).Msg("budget check skipped")
		return nil
	}
	if allowed {
		return nil
	}
	f.log.Warn().Int64("count", n).Int64("limit", f.budgetPerMinute).Msg("upstream budget exceeded")
	t := time.NewTimer(budgetBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return models.Upstream("wait for upstream budget", ctx.Err())
	}
}

type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Failures int64 `json:"failures"`
	InFlight int64 `json:"inFlight"`
}

func (f *Fetcher) Stats() Stats {
	return Stats{
		Hits:     f.hits.Load(),
		Misses:   f.misses.Load(),
		Failures: f.failures.Load(),
		InFlight: f.inFlight.Load(),
	}
}
