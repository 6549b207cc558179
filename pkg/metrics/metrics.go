package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aspirely"

// Metrics holds all Prometheus metrics for the client
type Metrics struct {
	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheErrorsTotal    *prometheus.CounterVec

	// Token lifecycle metrics
	TokenRefreshesTotal   *prometheus.CounterVec
	RefreshRateLimited    prometheus.Counter
	AuthRetriesTotal      *prometheus.CounterVec
	QueueRejectionsTotal  prometheus.Counter
	RefreshQueueDepth     prometheus.Gauge
	TokenSecondsRemaining prometheus.Gauge

	// Backend metrics
	BackendRequestDuration *prometheus.HistogramVec
	BackendRequestsTotal   *prometheus.CounterVec

	// Optimistic mutation outcomes
	MutationsTotal *prometheus.CounterVec

	// Generation waits
	GenerationWaitDuration *prometheus.HistogramVec
}

var (
	registry *prometheus.Registry
	instance *Metrics
	once     sync.Once
)

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of valid cache envelope reads",
		}, []string{"cache_name"}),
		CacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"cache_name"}),
		CacheEvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions by reason",
		}, []string{"cache_name", "reason"}),
		CacheErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Total number of cache storage errors",
		}, []string{"operation"}),

		TokenRefreshesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by trigger and result",
		}, []string{"trigger", "result"}),
		RefreshRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_rate_limited_total",
			Help:      "Refresh triggers answered with the previous token",
		}),
		AuthRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_retries_total",
			Help:      "Calls retried after an auth-expired error",
		}, []string{"label"}),
		QueueRejectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_queue_rejections_total",
			Help:      "Calls rejected because the refresh queue was full",
		}),
		RefreshQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_queue_depth",
			Help:      "Calls waiting on an in-flight token refresh",
		}),
		TokenSecondsRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_seconds_remaining",
			Help:      "Seconds until the installed bearer token expires",
		}),

		BackendRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "resource", "status"}),
		BackendRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of backend requests",
		}, []string{"method", "resource", "status"}),

		MutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_mutations_total",
			Help:      "Optimistic mutations by kind and final status",
		}, []string{"kind", "status"}),

		GenerationWaitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_wait_seconds",
			Help:      "Time spent waiting for AI generation results",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"kind", "source"}),
	}
}

// Get returns the process-wide metrics, registering them on first use.
func Get() *Metrics {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		instance = New(registry)
	})
	return instance
}

// Registry returns the registry backing Get.
func Registry() *prometheus.Registry {
	Get()
	return registry
}

// Handler serves the process-wide registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
