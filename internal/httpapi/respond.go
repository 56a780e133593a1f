package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/tessera-id/tessera/internal/platform/errors"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps a domain error onto the HTTP surface. Unexpected
// errors are logged in full and surfaced with a generic message only.
func writeDomainError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		log.Printf("internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{
		Error:   string(code),
		Message: err.Error(),
		Field:   errors.Field(err),
	})
}
