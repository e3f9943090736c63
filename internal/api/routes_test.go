package api_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetbridge/sheetbridge/internal/api"
	"github.com/sheetbridge/sheetbridge/internal/telemetry"
)

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	handler := api.NewServer(&stubSyncer{}, &stubReadiness{})

	rec := get(t, handler, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	handler := api.NewServer(&stubSyncer{}, &stubReadiness{})
	rec := get(t, handler, "/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	handler = api.NewServer(&stubSyncer{}, &stubReadiness{err: fmt.Errorf("connection refused")})
	rec = get(t, handler, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not ready")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	handler := api.NewServer(&stubSyncer{}, &stubReadiness{})

	rec := get(t, handler, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	telemetry.NewSyncMetrics(registry)

	handler := api.NewServer(&stubSyncer{}, &stubReadiness{},
		api.WithMetricsGatherer(registry))

	rec := get(t, handler, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without a gatherer the endpoint is not mounted.
	handler = api.NewServer(&stubSyncer{}, &stubReadiness{})
	rec = get(t, handler, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
