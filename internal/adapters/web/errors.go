package web

import (
	"encoding/json"
	"net/http"

	"factory-procurement/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = map[core.ErrorKind]int{
	core.KindNotFound:     http.StatusNotFound,
	core.KindValidation:   http.StatusUnprocessableEntity,
	core.KindUnauthorized: http.StatusUnauthorized,
	core.KindForbidden:    http.StatusForbidden,
	core.KindConflict:     http.StatusConflict,
}

// writeServiceError maps a core error to its HTTP form. Unclassified errors
// are logged and reported as a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := core.AsError(err); ok {
		if status, known := statusByKind[e.Kind]; known {
			writeError(w, r, e.Message, e.Code, status)
			return
		}
	}
	h.log.Error("unhandled service error",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
