package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsEngineActivity(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordDiscovery("completed", 4, 2*time.Second)
	m.RecordJob("COMPLETE", "", 30*time.Second)
	m.RecordJob("ERROR", "Assertion Failed", 45*time.Second)
	m.RecordSubmitAttempt("accepted")
	m.RecordSubmitAttempt("throttled")
	m.RecordSubmitAttempt("throttled")
	m.RecordPoll("INPROCESS")
	m.JobStarted()
	m.JobStarted()
	m.JobFinished()
	m.ObservePlatformCall("boomi", "ExecutionRequest", "ok", 120*time.Millisecond)
	m.RecordHTTPRequest(http.MethodGet, "GET /test-plans/{planId}", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveries.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("COMPLETE", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("ERROR", "Assertion Failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitAttempts.WithLabelValues("throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("INPROCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.platformCalls.WithLabelValues("boomi", "ExecutionRequest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /test-plans/{planId}", "404")))
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)
	m.RecordSubmitAttempt("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ato_submit_attempts_total{outcome="accepted"} 1`))
	assert.Equal(t, "/metrics", m.Path())
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordJob("COMPLETE", "", time.Second)
		m.JobStarted()
		m.ObservePlatformCall("boomi", "op", "ok", time.Second)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordPoll("COMPLETE") })
}
