package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/TrackBot/config"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/services/fetcher"
	"github.com/BearBump/TrackBot/internal/services/scheduler"
	"github.com/BearBump/TrackBot/internal/services/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	httpSwagger "github.com/swaggo/http-swagger"
)

type watchOps interface {
	Stats() watcher.Stats
	Trigger(ctx context.Context, id models.ChatID) watcher.TickReport
}

type fetchStats interface {
	Stats() fetcher.Stats
}

type schedStats interface {
	Stats() scheduler.Stats
}

type opsHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	watcher   watchOps
	fetcher   fetchStats
	scheduler schedStats
	metrics   http.Handler
	pingers   []pinger
	cfg       *config.Config
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runOpsHTTPServer(ctx context.Context, opts opsHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8090"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("ops swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newOpsRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newOpsRouter(opts opsHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range opts.pingers {
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.watcher == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "watcher not wired"})
			return
		}
		out := map[string]any{"watcher": opts.watcher.Stats()}
		if opts.fetcher != nil {
			out["fetcher"] = opts.fetcher.Stats()
		}
		if opts.scheduler != nil {
			out["scheduler"] = opts.scheduler.Stats()
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "config not wired"})
			return
		}
		// Operational settings only; tokens and DSNs stay out.
		c := opts.cfg
		writeJSON(w, http.StatusOK, map[string]any{
			"defaultIntervalMinutes":  c.Watch.DefaultIntervalMinutes,
			"firstTickDelaySeconds":   c.Watch.FirstTickDelaySeconds,
			"cacheTTLSeconds":         c.Watch.CacheTTLSeconds,
			"fetchConcurrency":        c.Watch.FetchConcurrency,
			"upstreamBudgetPerMinute": c.Watch.UpstreamBudgetPerMinute,
			"spxMode":                 c.SPX.Mode,
			"cacheBackend":            c.Cache.Backend,
			"storageBackend":          c.Storage.Backend,
			"kafkaEnabled":            c.Kafka.Enabled,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.watcher == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "watcher not wired"})
			return
		}
		id, err := strconv.ParseInt(r.URL.Query().Get("chat"), 10, 64)
		if err != nil || id == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chat query parameter is required"})
			return
		}
		writeJSON(w, http.StatusOK, opts.watcher.Trigger(r.Context(), models.ChatID(id)))
	})

	if opts.metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.metrics)
	}

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}
