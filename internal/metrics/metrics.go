// Package metrics exposes Prometheus collectors for the enrichment pipeline.
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
	listingsDiscoveredTotal    *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	extractionsInFlight        prometheus.Gauge
	crawlsTotal                *prometheus.CounterVec
	listingsByStage            *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listingsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadpipe_listings_discovered_total",
				Help: "Total listings returned by directory discovery, labeled by zone and whether they were new.",
			},
			[]string{"zone", "outcome"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadpipe_extractions_total",
				Help: "Total website extraction attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadpipe_extraction_duration_seconds",
				Help:    "Histogram of extraction attempt latencies, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		)

		extractionsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadpipe_extractions_in_flight",
				Help: "Number of website extractions currently running.",
			},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadpipe_crawls_total",
				Help: "Total zone crawls, labeled by status.",
			},
			[]string{"status"},
		)

		listingsByStage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadpipe_listings_by_stage",
				Help: "Listings per pipeline stage for a zone, set after each crawl.",
			},
			[]string{"zone", "stage"},
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
	return promhttp.Handler()
}

// ObserveDiscovery counts one discovered listing for a zone.
func ObserveDiscovery(zone string, created bool) {
	outcome := "updated"
	if created {
		outcome = "new"
	}
	listingsDiscoveredTotal.WithLabelValues(zone, outcome).Inc()
}

// ObserveExtraction records one finished extraction attempt.
func ObserveExtraction(site, outcome string, duration time.Duration) {
	extractionsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	extractionDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncExtractionsInFlight increments the in-flight extraction gauge.
func IncExtractionsInFlight() {
	extractionsInFlight.Inc()
}

// DecExtractionsInFlight decrements the in-flight extraction gauge.
func DecExtractionsInFlight() {
	extractionsInFlight.Dec()
}

// SetStageGauge records the current listing count for a zone and stage.
func SetStageGauge(zone, stage string, count int) {
	listingsByStage.WithLabelValues(zone, stage).Set(float64(count))
}

// ObserveCrawl counts one finished zone crawl.
func ObserveCrawl(status string) {
	crawlsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
