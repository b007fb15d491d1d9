package observability

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/envutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const namespace = "annotator"

// Metrics owns a private registry so several instances (tests, subcommands)
// never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	records        *prometheus.CounterVec
	lastRunSuccess prometheus.Gauge
	scoreCalls     *prometheus.CounterVec
	scoreLatency   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	redisUp        prometheus.Gauge
	redisPing      prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Init builds the process-wide Metrics once.
func Init() *Metrics {
	initOnce.Do(func() {
		instance = NewMetrics()
	})
	return instance
}

func Current() *Metrics {
	return instance
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Annotation runs by backend and outcome.",
		}, []string{"backend", "outcome"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of annotation runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"backend", "outcome"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Feedback records by pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),
		lastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without a fatal error.",
		}),
		scoreCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Sentiment backend calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		scoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Sentiment backend call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"method", "route"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_up",
			Help:      "Whether the run-lock Redis answered the last ping.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_ping_seconds",
			Help:      "Latency of the last run-lock Redis ping.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveScore implements sentiment.Observer.
func (m *Metrics) ObserveScore(backend, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scoreCalls.WithLabelValues(backend, outcome).Inc()
	m.scoreLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveRun implements annotation.RunObserver.
func (m *Metrics) ObserveRun(r domain.RunReport) {
	if m == nil {
		return
	}
	outcome := RunOutcome(r)
	m.runs.WithLabelValues(r.Backend, outcome).Inc()
	m.runDuration.WithLabelValues(r.Backend, outcome).Observe(r.Duration().Seconds())

	m.records.WithLabelValues("selected", "ok").Add(float64(r.Selected))
	m.records.WithLabelValues("scoring", "ok").Add(float64(r.Scored))
	m.records.WithLabelValues("scoring", "failed").Add(float64(r.FailedToScore))
	m.records.WithLabelValues("scoring", "not_attempted").Add(float64(r.NotAttempted))
	m.records.WithLabelValues("persisting", "ok").Add(float64(r.Persisted))
	m.records.WithLabelValues("persisting", "failed").Add(float64(r.FailedToPersist))

	if r.State == domain.RunDone {
		m.lastRunSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// RunOutcome labels a report: done, canceled, failed or skipped.
func RunOutcome(r domain.RunReport) string {
	switch {
	case r.State == domain.RunDone && r.Canceled:
		return "canceled"
	case r.State == domain.RunDone:
		return "done"
	default:
		return string(r.State)
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RegisterDBStats exports connection pool stats for a SQL warehouse or
// ledger handle. Registering the same name twice is a no-op.
func (m *Metrics) RegisterDBStats(name string, db *sql.DB) error {
	if m == nil || db == nil {
		return nil
	}
	err := m.registry.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// StartRedisCollector pings rdb on an interval until ctx ends.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 10)
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil && ctx.Err() == nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
