package main

import (
	"context"
	"time"

	"github.com/BearBump/TrackBot/config"
	"github.com/BearBump/TrackBot/internal/bot"
	"github.com/BearBump/TrackBot/internal/broker/kafka"
	"github.com/BearBump/TrackBot/internal/cache"
	"github.com/BearBump/TrackBot/internal/cache/memcache"
	"github.com/BearBump/TrackBot/internal/cache/rediscache"
	"github.com/BearBump/TrackBot/internal/integrations/carrier"
	"github.com/BearBump/TrackBot/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackBot/internal/integrations/carrier/spx"
	"github.com/BearBump/TrackBot/internal/metrics"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/services/fetcher"
	"github.com/BearBump/TrackBot/internal/services/scheduler"
	"github.com/BearBump/TrackBot/internal/services/watcher"
	"github.com/BearBump/TrackBot/internal/storage/memstate"
	"github.com/BearBump/TrackBot/internal/storage/pgstate"
	"github.com/BearBump/TrackBot/internal/storage/sqlitestate"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// transport is the chat side of the bot: it receives commands and delivers notifications.
type transport interface {
	Start(ctx context.Context, h *bot.Handler)
	Stop()
	SetCommands() error
	Notify(ctx context.Context, n models.Notification) error
}

type publisher interface {
	kafka.Publisher
	Close() error
}

type consumer interface {
	kafka.MessageConsumer
	Close() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type cacheBundle struct {
	store  cache.BytesCache
	budget fetcher.RateLimiter
	ping   pinger
	close  func()
}

type appFactories struct {
	newRepository func(ctx context.Context, cfg *config.Config) (repo watcher.Repository, closeFn func(), err error)
	newCache      func(cfg *config.Config) cacheBundle
	newUpstream   func(cfg *config.Config) carrier.Client
	newTransport  func(cfg *config.Config, log zerolog.Logger) (transport, error)
	newProducer   func(cfg *config.Config) publisher
	newConsumer   func(cfg *config.Config) consumer
	notifyReady   func(state string)
}

func defaultAppFactories() appFactories {
	return appFactories{
		newRepository: func(ctx context.Context, cfg *config.Config) (watcher.Repository, func(), error) {
			switch cfg.Storage.Backend {
			case "memory":
				return memstate.New(), nil, nil
			case "postgres":
				st, err := pgstate.New(ctx, cfg.Database.DSN())
				if err != nil {
					return nil, nil, err
				}
				return st, st.Close, nil
			default:
				st, err := sqlitestate.New(cfg.Storage.SQLitePath)
				if err != nil {
					return nil, nil, err
				}
				return st, func() { _ = st.Close() }, nil
			}
		},
		newCache: func(cfg *config.Config) cacheBundle {
			if cfg.Cache.Backend == "redis" {
				client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
				rc := rediscache.NewWithClient(client, rediscache.DefaultPrefix)
				return cacheBundle{
					store:  rc,
					budget: rediscache.NewRateLimiterWithClient(client),
					ping:   rc,
					close:  func() { _ = rc.Close() },
				}
			}
			b := cacheBundle{store: memcache.New(cfg.Cache.SizeMB)}
			if cfg.Watch.UpstreamBudgetPerMinute > 0 {
				b.budget = rediscache.NewRateLimiter(cfg.Redis.Addr())
			}
			return b
		},
		newUpstream: func(cfg *config.Config) carrier.Client {
			if cfg.SPX.Mode == "fake" {
				return fake.New()
			}
			return spx.New(cfg.SPX.URL, cfg.SPX.Timeout(), cfg.SPX.RequestsPerSecond)
		},
		newTransport: func(cfg *config.Config, log zerolog.Logger) (transport, error) {
			return bot.NewTelegram(cfg.Telegram.Token, cfg.Telegram.PollTimeout(), log)
		},
		newProducer: func(cfg *config.Config) publisher {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newConsumer: func(cfg *config.Config) consumer {
			return kafka.NewConsumer(cfg.Kafka.Brokers(), cfg.Kafka.NotificationsTopicName, cfg.Kafka.GroupID)
		},
		notifyReady: func(state string) { _, _ = daemon.SdNotify(false, state) },
	}
}

// newFetcher builds the cached upstream used by both the bot and the lookup command.
func newFetcher(cfg *config.Config, upstream carrier.Client, cb cacheBundle, m metrics.Recorder, log zerolog.Logger) *fetcher.Fetcher {
	f := fetcher.New(upstream, cb.store, log).
		WithSettings(cfg.Watch.CacheTTL(), cfg.Watch.FetchConcurrency).
		WithMetrics(m)
	if cb.budget != nil && cfg.Watch.UpstreamBudgetPerMinute > 0 {
		f = f.WithBudget(cb.budget, int64(cfg.Watch.UpstreamBudgetPerMinute))
	}
	return f
}

// RunBot wires every component, restores persisted watches and serves until ctx is done.
func RunBot(ctx context.Context, cfg *config.Config, f appFactories, log zerolog.Logger) error {
	m := metrics.New()

	repo, closeRepo, err := f.newRepository(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	cb := f.newCache(cfg)
	if cb.close != nil {
		defer cb.close()
	}
	fetch := newFetcher(cfg, f.newUpstream(cfg), cb, m, log)

	tr, err := f.newTransport(cfg, log)
	if err != nil {
		return errors.Wrap(err, "create transport")
	}

	var sink watcher.Sink = tr
	if cfg.Kafka.Enabled {
		prod := f.newProducer(cfg)
		defer func() { _ = prod.Close() }()
		sink = kafka.NewNotificationSink(prod, cfg.Kafka.NotificationsTopicName)

		cons := f.newConsumer(cfg)
		defer func() { _ = cons.Close() }()
		relay := kafka.NewRelay(cons, tr, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	sched := scheduler.New(log).WithFirstDelay(cfg.Watch.FirstTickDelay())
	w := watcher.New(repo, fetch, sched, sink, log).
		WithDefaultInterval(cfg.Watch.DefaultIntervalMinutes).
		WithMetrics(m)

	sched.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	restored, err := w.Restore(ctx)
	if err != nil {
		return errors.Wrap(err, "restore watches")
	}
	log.Info().Int("chats", restored).Msg("watches restored")

	if err := tr.SetCommands(); err != nil {
		log.Warn().Err(err).Msg("set command menu")
	}
	tr.Start(ctx, bot.NewHandler(w, log))
	defer tr.Stop()

	opts := opsHTTPOpts{
		httpAddr:    cfg.Ops.Addr,
		swaggerPath: cfg.Ops.SwaggerPath,
		watcher:     w,
		fetcher:     fetch,
		scheduler:   sched,
		metrics:     m.Handler(),
		cfg:         cfg,
	}
	if p, ok := repo.(pinger); ok {
		opts.pingers = append(opts.pingers, p)
	}
	if cb.ping != nil {
		opts.pingers = append(opts.pingers, cb.ping)
	}
	go func() {
		if err := runOpsHTTPServer(ctx, opts); err != nil {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()

	if f.notifyReady != nil {
		f.notifyReady(daemon.SdNotifyReady)
	}
	log.Info().Str("ops", cfg.Ops.Addr).Msg("bot started")

	<-ctx.Done()
	if f.notifyReady != nil {
		f.notifyReady(daemon.SdNotifyStopping)
	}
	log.Info().Msg("shutting down")
	return ctx.Err()
}

// RunLookup prints the latest card, or the timeline when n > 0, for one code.
func RunLookup(ctx context.Context, cfg *config.Config, f appFactories, code string, n int, log zerolog.Logger) (string, error) {
	cb := f.newCache(cfg)
	if cb.close != nil {
		defer cb.close()
	}
	fetch := newFetcher(cfg, f.newUpstream(cfg), cb, metrics.Noop{}, log)
	w := watcher.New(memstate.New(), fetch, scheduler.New(log), nil, log)

	if n > 0 {
		res, err := w.Timeline(ctx, code, n)
		if err != nil {
			return "", err
		}
		return res.Notification(0).Text, nil
	}
	res, err := w.Lookup(ctx, 0, code)
	if err != nil {
		return "", err
	}
	return res.Notification(0).Text, nil
}
