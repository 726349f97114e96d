package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string `json:"status"`
	Bus    string `json:"bus"`
}

// HealthHandler reports process liveness unconditionally — it never checks
// the bus, so a Redis outage doesn't make the process itself look dead.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"}) //nolint:errcheck
}

// ReadyHandler reports whether the bus connection is usable, for a
// readiness probe gating traffic.
func ReadyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := ReadyResponse{Status: "ready", Bus: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Bus.Raw().Ping(ctx).Err(); err != nil {
			response.Bus = "error"
			response.Status = "not ready"
		}

		w.Header().Set("Content-Type", "application/json")
		if response.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response) //nolint:errcheck
	}
}
