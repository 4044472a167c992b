package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for ato. It satisfies engine.Metrics and
// platform.CallObserver. A disabled or nil *Metrics records nothing.
type Metrics struct {
	config MetricsConfig

	// Discovery metrics
	discoveries         *prometheus.CounterVec
	discoveryDuration   *prometheus.HistogramVec
	discoveryComponents prometheus.Histogram

	// Job metrics
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	submitAttempts *prometheus.CounterVec
	polls          *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge

	// Platform metrics
	platformCalls    *prometheus.CounterVec
	platformDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		discoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discoveries_total",
				Help:      "Total number of dependency discoveries",
			},
			[]string{"status"},
		),
		discoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_duration_seconds",
				Help:      "Duration of dependency discovery in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		discoveryComponents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_components",
				Help:      "Number of components recorded per discovered test plan",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of test jobs by final status and failure kind",
			},
			[]string{"status", "kind"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of test jobs from first submission to terminal state",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		submitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submit_attempts_total",
				Help:      "Total number of execution submission attempts by outcome",
			},
			[]string{"outcome"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of execution status polls by observed state",
			},
			[]string{"state"},
		),
		jobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Current number of test jobs holding a concurrency slot",
			},
		),

		platformCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_calls_total",
				Help:      "Total number of platform API calls",
			},
			[]string{"provider", "operation", "outcome"},
		),
		platformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_call_duration_seconds",
				Help:      "Duration of platform API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.discoveries,
		m.discoveryDuration,
		m.discoveryComponents,
		m.jobs,
		m.jobDuration,
		m.submitAttempts,
		m.polls,
		m.jobsInFlight,
		m.platformCalls,
		m.platformDuration,
		m.httpRequests,
		m.httpDuration,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Discovery Metrics

// RecordDiscovery records a finished discovery with the number of components
// it recorded.
func (m *Metrics) RecordDiscovery(status string, components int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.discoveries.WithLabelValues(status).Inc()
	m.discoveryDuration.WithLabelValues(status).Observe(duration.Seconds())
	if components > 0 {
		m.discoveryComponents.Observe(float64(components))
	}
}

// Job Metrics

// RecordJob records a job that reached a terminal status. kind is the failure
// kind, empty for successful jobs.
func (m *Metrics) RecordJob(status, kind string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.jobs.WithLabelValues(status, kind).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSubmitAttempt records one submission attempt.
func (m *Metrics) RecordSubmitAttempt(outcome string) {
	if !m.enabled() {
		return
	}
	m.submitAttempts.WithLabelValues(outcome).Inc()
}

// RecordPoll records one status poll.
func (m *Metrics) RecordPoll(state string) {
	if !m.enabled() {
		return
	}
	m.polls.WithLabelValues(state).Inc()
}

// JobStarted increments the in-flight gauge.
func (m *Metrics) JobStarted() {
	if !m.enabled() {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished decrements the in-flight gauge.
func (m *Metrics) JobFinished() {
	if !m.enabled() {
		return
	}
	m.jobsInFlight.Dec()
}

// Platform Metrics

// ObservePlatformCall records one platform API call.
func (m *Metrics) ObservePlatformCall(provider, operation, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.platformCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.platformDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// API Metrics

// RecordHTTPRequest records one served API request. route is the matched
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Path returns the HTTP path metrics should be served on.
func (m *Metrics) Path() string {
	if m == nil || m.config.Path == "" {
		return "/metrics"
	}
	return m.config.Path
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
