// Package handler contains the HTTP handlers for the read API. Handlers only
// read: the ingestion pipeline is never mutated over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"
)

var processStart = time.Now()

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logHandler(logger, "health")}
}

// HealthCheck reports that the process is alive and for how long.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "wallwatch",
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
