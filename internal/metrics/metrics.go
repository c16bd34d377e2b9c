// Package metrics declares the service's prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EngineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_engine_duration_seconds",
		Help:    "Latency of search, recommend and predict calls",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"engine", "outcome"})

	PartialResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_partial_results_total",
		Help: "Calls that hit their deadline and returned a partial ranking",
	}, []string{"engine"})

	ColdStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_recommend_cold_starts_total",
		Help: "Recommendations served from the trending fallback",
	})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_cache_requests_total",
		Help: "Recommendation cache lookups by result",
	}, []string{"result"})

	InteractionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_interactions_recorded_total",
		Help: "Interaction facts ingested by event type and outcome",
	}, []string{"event_type", "outcome"})

	CatalogBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "library_catalog_books",
		Help: "Books currently indexed",
	})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_sync_runs_total",
		Help: "Background sync runs by source and outcome",
	}, []string{"source", "outcome"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "library_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveEngine records the latency of one engine call.
func ObserveEngine(engine string, start time.Time, err error) {
	EngineDuration.WithLabelValues(engine, outcome(err)).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
