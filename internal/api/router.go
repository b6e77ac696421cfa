package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers the v1 guard routes, health probes and /metrics
func NewRouter(guard *GuardHandler, health *HealthHandler) *mux.Router {
	router := mux.NewRouter()

	// Routes live on the root router so a wrong method answers 405, not 404
	router.HandleFunc("/api/v1/evaluate", guard.Evaluate).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/refresh", guard.Refresh).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/rule", guard.GetRule).Methods(http.MethodGet)

	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.Ready).Methods(http.MethodGet)
	router.HandleFunc("/live", health.Live).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	return router
}
