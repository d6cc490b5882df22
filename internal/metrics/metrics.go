// Package metrics exposes the bot's Prometheus instruments on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Recorder interface {
	IncCacheHits()
	IncCacheMisses()
	IncUpstream(outcome string)
	ObserveUpstream(d time.Duration)
	IncNotifications(outcome string)
	ObserveTick(d time.Duration)
	SetActiveTasks(n int)
}

type Prometheus struct {
	reg *prometheus.Registry

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	notifications    *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	activeTasks      prometheus.Gauge
}

func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		reg: reg,
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "trackbot_cache_hits_total",
			Help: "Tracking payloads served from cache",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "trackbot_cache_misses_total",
			Help: "Tracking payload lookups that went upstream",
		}),
		upstreamTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackbot_upstream_requests_total",
			Help: "Upstream tracking API calls by outcome",
		}, []string{"outcome"}),
		upstreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackbot_upstream_duration_seconds",
			Help:    "Upstream tracking API latency",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackbot_notifications_total",
			Help: "Update notifications emitted by the watch loop",
		}, []string{"outcome"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackbot_tick_duration_seconds",
			Help:    "Duration of one chat watch tick",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		activeTasks: f.NewGauge(prometheus.GaugeOpts{
			Name: "trackbot_watch_tasks",
			Help: "Chats with an active recurring watch task",
		}),
	}
}

func (m *Prometheus) IncCacheHits()                   { m.cacheHits.Inc() }
func (m *Prometheus) IncCacheMisses()                 { m.cacheMisses.Inc() }
func (m *Prometheus) IncUpstream(outcome string)      { m.upstreamTotal.WithLabelValues(outcome).Inc() }
func (m *Prometheus) ObserveUpstream(d time.Duration) { m.upstreamDuration.Observe(d.Seconds()) }
func (m *Prometheus) IncNotifications(outcome string) { m.notifications.WithLabelValues(outcome).Inc() }
func (m *Prometheus) ObserveTick(d time.Duration)     { m.tickDuration.Observe(d.Seconds()) }
func (m *Prometheus) SetActiveTasks(n int)            { m.activeTasks.Set(float64(n)) }

func (m *Prometheus) Registry() *prometheus.Registry { return m.reg }

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

type Noop struct{}

func (Noop) IncCacheHits()                 {}
func (Noop) IncCacheMisses()               {}
func (Noop) IncUpstream(string)            {}
func (Noop) ObserveUpstream(time.Duration) {}
func (Noop) IncNotifications(string)       {}
func (Noop) ObserveTick(time.Duration)     {}
func (Noop) SetActiveTasks(int)            {}
