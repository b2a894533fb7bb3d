package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// BookSource returns the current order book for a symbol, or nil when the
// symbol is unknown, not yet snapshotted, or stale. The orchestrator serves
// this directly in ingest/full mode; in server mode an adapter reads the
// Redis mirror instead.
type BookSource interface {
	Snapshot(symbol string) *domain.BookSnapshot
}

// BookHandler serves order-book snapshots.
type BookHandler struct {
	source BookSource
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(source BookSource, logger *slog.Logger) *BookHandler {
	return &BookHandler{source: source, logger: logHandler(logger, "book")}
}

// GetBook returns the current book for a symbol.
// GET /api/book/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "no book source in this mode")
		return
	}
	symbol := pathParam(r, "symbol")

	snap := h.source.Snapshot(symbol)
	if snap == nil {
		writeError(w, http.StatusNotFound, "no current book for symbol "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
