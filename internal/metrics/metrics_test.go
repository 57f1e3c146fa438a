package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordTransition("start event", "ok")
	m.RecordTransition("start event", "ok")
	m.RecordTransition("cancel request", "invalid_transition")
	m.RecordNotification("new_offer", nil)
	m.RecordNotification("new_offer", errors.New("broker down"))
	m.RecordLockContention("accept request")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("start event", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("cancel request", "invalid_transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("new_offer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockBusy.WithLabelValues("accept request")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("x", "ok")
		m.RecordNotification("x", nil)
		m.RecordLockContention("x")
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(http.MethodGet, "/api/requests/{id}", http.StatusOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `booking_http_requests_total{method="GET",path="/api/requests/{id}",status="200"} 1`)
}
