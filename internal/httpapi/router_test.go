package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

func newTestRouter(t *testing.T, ready ReadyFunc) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRouter(slog.Default(), metrics.NewHTTPMetrics(reg), reg, ready)
}

func TestRouter_Healthz_AlwaysOK(t *testing.T) {
	router := newTestRouter(t, func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_Readyz_ReturnsOKWhenDependenciesHealthy(t *testing.T) {
	router := newTestRouter(t, func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readyz_ReturnsServiceUnavailableWhenNotReady(t *testing.T) {
	router := newTestRouter(t, func(ctx context.Context) error { return errors.New("redis unreachable") })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis unreachable")
}

func TestRouter_Metrics_ExposesPrometheusFormat(t *testing.T) {
	router := newTestRouter(t, func(ctx context.Context) error { return nil })

	// Generate one recorded request before scraping, so the counter vec
	// has at least one label combination to expose.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etlmonitor_http_requests_total")
}
