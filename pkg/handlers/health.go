package handlers

import (
	"net/http"
	"time"
)

// HealthHandler answers liveness probes on / and /healthz.
type HealthHandler struct {
	version string
	started time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now()}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	UptimeSec int64  `json:"uptime_seconds"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth reports service health. The process is healthy as soon as it
// serves; upstream availability is surfaced per request, not here.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   "policy-qa",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
