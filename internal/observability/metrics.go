package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "venue", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "venue", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "venue", Name: "provider_requests_total", Help: "Place provider calls."},
		[]string{"endpoint", "outcome"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "venue", Name: "provider_request_duration_seconds",
			Help:    "Place provider call duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	EnrichOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "venue", Name: "enrich_records_total", Help: "Enrichment outcomes per record."},
		[]string{"outcome"}, // enriched|skipped|not_found|failed
	)
	SyncActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "venue", Name: "sync_records_total", Help: "Synchronizer actions per record."},
		[]string{"action"}, // created|updated|skipped|failed
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "venue", Name: "cache_events_total", Help: "Cache hits/misses/sets."},
		[]string{"cache", "event"},
	)
)

// InitRegistry registers every collector on a fresh registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ProviderRequests, ProviderLatency, EnrichOutcomes, SyncActions, CacheEvents)
	return reg
}

// MetricsHandler exposes reg in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveProvider(endpoint string, err error, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderRequests.WithLabelValues(endpoint, outcome).Inc()
	ProviderLatency.WithLabelValues(endpoint).Observe(dur.Seconds())
}

func ObserveEnrich(outcome string) { EnrichOutcomes.WithLabelValues(outcome).Inc() }

func ObserveSync(action string) { SyncActions.WithLabelValues(action).Inc() }

func ObserveCache(cache, event string) { // event: hit|miss|set
	CacheEvents.WithLabelValues(cache, event).Inc()
}
