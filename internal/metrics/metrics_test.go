package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.PollsTotal.WithLabelValues("success").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.PollsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PollsTotal.WithLabelValues("success")))
}

func TestObserveRequestAndHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("logs", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.ObserveRequest("logs", http.MethodGet, http.StatusOK, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("logs", "GET", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{handler="logs",method="GET",status="200"} 2`)
}
