// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	entitiesTotal              *prometheus.CounterVec
	stageTransitionsTotal      *prometheus.CounterVec
	listingFetchesTotal        *prometheus.CounterVec
	breakerTripsTotal          prometheus.Counter
	discoveryPagesVisited      prometheus.Histogram
	fallbackPassesTotal        *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_fetches_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_entities_total",
				Help: "Entities that finished the workflow, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		stageTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_stage_transitions_total",
				Help: "Workflow stage transitions, labeled by source and target stage.",
			},
			[]string{"from", "to"},
		)

		listingFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_listing_fetches_total",
				Help: "Listing page fetches, labeled by result.",
			},
			[]string{"result"},
		)

		breakerTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "winerank_breaker_trips_total",
				Help: "Times the listing circuit breaker tripped.",
			},
		)

		discoveryPagesVisited = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "winerank_discovery_pages_visited",
				Help:    "Pages fetched per in-site discovery attempt.",
				Buckets: []float64{0, 1, 2, 5, 10, 15, 20, 30},
			},
		)

		fallbackPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_fallback_passes_total",
				Help: "External index search passes, labeled by pass and result.",
			},
			[]string{"pass", "result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winerank_jobs_total",
				Help: "Total number of job runs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "winerank_active_workers",
				Help: "Number of workers currently processing an entity.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "winerank_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one page fetch.
func ObserveFetch(site string, status int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveEntity counts an entity that left the workflow.
func ObserveEntity(outcome string) {
	Init()
	entitiesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStageTransition counts one workflow transition.
func ObserveStageTransition(from, to string) {
	Init()
	stageTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveListingFetch counts a listing page fetch attempt ("ok" or "error").
func ObserveListingFetch(result string) {
	Init()
	listingFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveBreakerTrip counts a circuit breaker trip.
func ObserveBreakerTrip() {
	Init()
	breakerTripsTotal.Inc()
}

// ObserveDiscoveryPages records the pages fetched by one discovery attempt.
func ObserveDiscoveryPages(pages int) {
	Init()
	discoveryPagesVisited.Observe(float64(pages))
}

// ObserveFallbackPass counts an external search pass.
func ObserveFallbackPass(pass int, result string) {
	Init()
	fallbackPassesTotal.WithLabelValues(strconv.Itoa(pass), result).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
