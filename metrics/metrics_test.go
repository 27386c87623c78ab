package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("scoring", "success", 250)
	m.ObserveRequest("scoring", "success", 400)
	m.ObserveRequest("scoring", "failed", 1200)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requestsTotal.WithLabelValues("scoring", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("scoring", "failed")))
}

func TestObserveProviderCall(t *testing.T) {
	m := New()

	m.ObserveProviderCall("openai", "direct", true)
	m.ObserveProviderCall("openai", "direct", false)
	m.ObserveProviderCall("openai", "proxy", true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.providerCalls.WithLabelValues("openai", "direct", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.providerCalls.WithLabelValues("openai", "direct", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.providerCalls.WithLabelValues("openai", "proxy", "success")))
}

func TestObserveCacheLookup(t *testing.T) {
	m := New()

	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
}

func TestQueueDepth(t *testing.T) {
	m := New()

	m.SetQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))

	m.SetQueueDepth(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.queueDepth))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("scoring", "success", 100)
		m.ObserveProviderCall("openai", "direct", true)
		m.ObserveCacheLookup(true)
		m.ObserveRateLimited("global")
		m.SetQueueDepth(3)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("enrichment", "success", 300)
	m.ObserveRateLimited("provider:openai")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ai_requests_total"))
	assert.True(t, strings.Contains(body, "ai_rate_limited_total"))
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ObserveRequest("scoring", "success", 100)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.requestsTotal.WithLabelValues("scoring", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.requestsTotal.WithLabelValues("scoring", "success")))
}
