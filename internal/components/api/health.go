package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of the health and readiness endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthHandler handles GET {base}/healthz. It only reports that the
// process is serving.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// ReadinessHandler answers 200 when probe succeeds and 503 otherwise.
// A nil probe is always ready.
func ReadinessHandler(probe Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe == nil {
			WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		if err := probe(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
