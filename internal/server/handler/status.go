package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantfeed/wallwatch/internal/ingest"
)

// StatusSource exposes the pipeline's lifecycle and queue stats. The
// ingestion orchestrator satisfies it.
type StatusSource interface {
	ConnectionState() ingest.State
	SessionID() string
	Symbols() []string
	Ready(symbol string) bool
	QueueSizes() map[string]int
	DroppedCounts() map[string]uint64
}

// StatusHandler serves the pipeline status endpoint.
type StatusHandler struct {
	source StatusSource
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. source may be nil when the
// process runs without an ingestion pipeline.
func NewStatusHandler(source StatusSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, logger: logHandler(logger, "status")}
}

// GetStatus reports connection state, per-symbol readiness and queue stats.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion pipeline not running in this mode")
		return
	}

	ready := make(map[string]bool)
	for _, sym := range h.source.Symbols() {
		ready[sym] = h.source.Ready(sym)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connection": h.source.ConnectionState(),
		"session_id": h.source.SessionID(),
		"symbols":    ready,
		"queues":     h.source.QueueSizes(),
		"dropped":    h.source.DroppedCounts(),
	})
}
