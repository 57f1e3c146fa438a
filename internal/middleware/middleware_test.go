package middleware

import (
	"bytes"
	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, logger.NewTestLogger())
	handler := rl.Handler(http.HandlerFunc(okHandler))

	call := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		if userID != "" {
			req = req.WithContext(auth.WithActor(req.Context(), models.Actor{ID: userID, Role: models.RoleLeader}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("leader-1"))
	assert.Equal(t, http.StatusOK, call("leader-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("leader-1"))
	assert.Equal(t, http.StatusOK, call("leader-2"))
	assert.Equal(t, http.StatusOK, call(""))

	rl.Cleanup(0)
	assert.Equal(t, http.StatusOK, call("leader-1"))
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/requests/{id}", okHandler)

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/requests/"+id, nil))
	}

	count, err := testutil.GatherAndCount(m.Registry, "booking_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoggingWritesStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(logger.NewWriterLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/requests/x/accept", nil))

	assert.Contains(t, buf.String(), "POST")
	assert.Contains(t, buf.String(), "/api/requests/x/accept")
	assert.Contains(t, buf.String(), "409")
}
