// Package httpapi exposes the process's operability surface: liveness,
// readiness, and Prometheus metrics. Per SPEC_FULL.md §8 this repository
// serves no CRUD/approval/backfill/signals HTTP routes — those are Go
// service methods on C1-C11, additionally reachable through
// cmd/loaderctl — so the router here stays deliberately small.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

// ReadyFunc reports whether the process's dependencies (Postgres, Redis)
// are reachable. Returns nil when ready.
type ReadyFunc func(ctx context.Context) error

// NewRouter builds the operability router: global request-id, logging,
// metrics, and recovery middleware wrapping /healthz, /readyz, and the
// Prometheus exposition endpoint.
func NewRouter(logger *slog.Logger, m *metrics.HTTPMetrics, reg *prometheus.Registry, ready ReadyFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestID)
	router.Use(logging(logger))
	router.Use(instrument(m))
	router.Use(recovery(logger))

	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", readyzHandler(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return router
}

// healthzHandler always returns 200: the process is alive and serving
// requests, independent of its dependencies' state.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// readyzHandler returns 200 only when ready() succeeds, so a load
// balancer or orchestrator can hold traffic back from a replica that
// cannot yet reach Postgres or Redis.
func readyzHandler(ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
