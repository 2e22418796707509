// Package metrics exposes Prometheus collectors for the release pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	registry = prometheus.NewRegistry()

	pageFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosnotifier_page_fetches_total",
			Help: "Release page fetches, labeled by strategy, host, and outcome.",
		},
		[]string{"strategy", "host", "outcome"},
	)
	modelUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biosnotifier_model_updates_total",
			Help: "Models whose held release advanced.",
		},
	)
	modelsDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biosnotifier_models_discovered_total",
			Help: "Models onboarded from the vendor catalog.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosnotifier_notifications_total",
			Help: "Notification attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	usersPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biosnotifier_users_purged_total",
			Help: "Unverified subscribers removed after the grace window.",
		},
	)
	stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosnotifier_stage_runs_total",
			Help: "Pipeline stage executions, labeled by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biosnotifier_stage_duration_seconds",
			Help:    "Wall time of pipeline stages.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)
	pacingDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biosnotifier_pacing_delay_seconds",
			Help:    "Time spent waiting between remote calls, labeled by host.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosnotifier_http_requests_total",
			Help: "Ops API requests, labeled by method, route, and status code.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biosnotifier_http_request_duration_seconds",
			Help:    "Ops API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			pageFetchesTotal,
			modelUpdatesTotal,
			modelsDiscoveredTotal,
			notificationsTotal,
			usersPurgedTotal,
			stageRunsTotal,
			stageDurationSeconds,
			pacingDelaySeconds,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Registry exposes the underlying registry (primarily for testing).
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns an http.Handler serving the pipeline metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SanitizeHost extracts a lowercase hostname, or "unknown" when the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetch records one release page fetch.
func ObserveFetch(strategy, rawURL, outcome string) {
	pageFetchesTotal.WithLabelValues(strategy, SanitizeHost(rawURL), outcome).Inc()
}

// ObserveModelUpdates adds n advanced models.
func ObserveModelUpdates(n int) {
	modelUpdatesTotal.Add(float64(n))
}

// ObserveDiscovered adds n onboarded models.
func ObserveDiscovered(n int) {
	modelsDiscoveredTotal.Add(float64(n))
}

// ObserveNotification records one notification attempt.
func ObserveNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePurge records a removed unverified subscriber.
func ObservePurge() {
	usersPurgedTotal.Inc()
}

// ObserveStage records a finished stage.
func ObserveStage(stage, status string, duration time.Duration) {
	stageRunsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObservePacingDelay records time spent waiting before a remote call.
func ObservePacingDelay(host string, duration time.Duration) {
	pacingDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the current registry to a Prometheus Pushgateway.
func Push(gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = "bios_notifier"
	}
	if err := push.New(gatewayURL, job).Gatherer(registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
