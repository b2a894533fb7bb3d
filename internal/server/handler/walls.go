package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// WallSource exposes the wall analytics for one symbol. The ingestion
// orchestrator satisfies it.
type WallSource interface {
	ActiveWalls(symbol string) []domain.Wall
	Clusters(symbol string) []domain.WallCluster
	WallHistory(symbol string) []domain.WallEvent
	WallStrength(symbol string, price float64, side domain.Side) float64
	IsWallReal(symbol string, price float64, side domain.Side) bool
}

// WallHandler serves wall analytics endpoints.
type WallHandler struct {
	source WallSource
	logger *slog.Logger
}

// NewWallHandler creates a WallHandler. source may be nil when the process
// runs without an ingestion pipeline.
func NewWallHandler(source WallSource, logger *slog.Logger) *WallHandler {
	return &WallHandler{source: source, logger: logHandler(logger, "walls")}
}

// ListWalls returns the active walls for a symbol. When price and side query
// parameters are present, the response also carries that wall's strength and
// realness verdict.
// GET /api/walls/{symbol}?price=100&side=bid
func (h *WallHandler) ListWalls(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "wall analytics not available in this mode")
		return
	}
	symbol := pathParam(r, "symbol")

	resp := map[string]any{
		"symbol": symbol,
		"walls":  h.source.ActiveWalls(symbol),
	}

	if priceStr := r.URL.Query().Get("price"); priceStr != "" {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid price parameter")
			return
		}
		side := domain.Side(r.URL.Query().Get("side"))
		if side != domain.SideBid && side != domain.SideAsk {
			writeError(w, http.StatusBadRequest, "side must be bid or ask")
			return
		}
		resp["strength"] = h.source.WallStrength(symbol, price, side)
		resp["real"] = h.source.IsWallReal(symbol, price, side)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListClusters returns the current wall clusters for a symbol.
// GET /api/walls/{symbol}/clusters
func (h *WallHandler) ListClusters(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "wall analytics not available in this mode")
		return
	}
	symbol := pathParam(r, "symbol")
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"clusters": h.source.Clusters(symbol),
	})
}

// ListHistory returns the retained wall event history for a symbol, oldest
// first.
// GET /api/walls/{symbol}/history
func (h *WallHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "wall analytics not available in this mode")
		return
	}
	symbol := pathParam(r, "symbol")
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"events": h.source.WallHistory(symbol),
	})
}
