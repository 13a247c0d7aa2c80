package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the public surface onto the router. protected wraps
// the answering endpoints with the auth middleware; health and metrics stay
// open for probes and scrapers.
func RegisterRoutes(router *mux.Router, qa *QAHandler, health *HealthHandler, protected mux.MiddlewareFunc) {
	router.HandleFunc("/", health.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/healthz", health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	if protected != nil {
		api.Use(protected)
	}
	api.HandleFunc("/hackrx/run", qa.HandleRun).Methods(http.MethodPost)
	// Legacy path kept for clients built against the original deployment.
	api.HandleFunc("/api/v1/hackrx/run", qa.HandleRun).Methods(http.MethodPost)
}
