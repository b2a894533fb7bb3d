package handler

import (
	"log/slog"
	"net/http"
)

// QueueSource exposes queue lengths and drop counters.
type QueueSource interface {
	QueueSizes() map[string]int
	DroppedCounts() map[string]uint64
}

// QueueHandler serves queue statistics.
type QueueHandler struct {
	source QueueSource
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler. source may be nil when the process
// runs without an ingestion pipeline.
func NewQueueHandler(source QueueSource, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{source: source, logger: logHandler(logger, "queues")}
}

// GetQueues returns current queue lengths and total overflow drops.
// GET /api/queues
func (h *QueueHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "queues not available in this mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sizes":   h.source.QueueSizes(),
		"dropped": h.source.DroppedCounts(),
	})
}
