package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Sources groups the data providers the handlers read from. Any field may be
// nil; the corresponding endpoints then answer 503 service unavailable.
type Sources struct {
	Status StatusSource
	Book   BookSource
	Walls  WallSource
	Queues QueueSource
}

// writeJSON marshals v as JSON and writes it with the given status code.
// If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam extracts a named path parameter using Go 1.22+ pattern routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler attaches the handler name to a logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
