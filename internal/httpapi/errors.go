package httpapi

import (
	"encoding/json"
	"net/http"

	"llamagate/internal/chat"
	"llamagate/internal/generator"
	"llamagate/internal/manager"
	"llamagate/pkg/types"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the consistent {error: ...} payload.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP statuses. Anything unmapped
// is internal.
func statusFor(err error) int {
	switch {
	case chat.IsBadRequest(err):
		return http.StatusBadRequest
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case generator.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
