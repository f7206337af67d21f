package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"afms/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// validationResponse adds per-field problems to the standard error body.
type validationResponse struct {
	errorResponse
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeJSONStatus(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeServiceError maps a core error onto its HTTP status. Unclassified
// errors are logged and reported as a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		resp := validationResponse{errorResponse: errorResponse{
			Error:     err.Error(),
			Code:      "VALIDATION_FAILED",
			RequestID: requestIDFromContext(r.Context()),
		}}
		var many core.ValidationErrors
		var one *core.ValidationError
		switch {
		case errors.As(err, &many):
			for _, p := range many {
				resp.Fields = append(resp.Fields, fieldError{Field: p.Field, Message: p.Message})
			}
		case errors.As(err, &one):
			resp.Fields = []fieldError{{Field: one.Field, Message: one.Message}}
		}
		writeJSONStatus(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, core.ErrCompanyNotFound):
		writeError(w, r, err.Error(), "COMPANY_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrAccessDenied):
		writeError(w, r, "access denied", "FORBIDDEN", http.StatusForbidden)
	case errors.Is(err, core.ErrUnauthenticated):
		writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
	case errors.Is(err, core.ErrConflict):
		writeError(w, r, err.Error(), "CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrInvalidState):
		writeError(w, r, err.Error(), "INVALID_STATE", http.StatusConflict)
	case errors.Is(err, core.ErrUnavailable):
		writeError(w, r, err.Error(), "UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		h.log.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
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
