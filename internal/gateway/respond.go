package gateway

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the standard error envelope
type errorResponse struct {
	Error   string `json:"error"`   // machine-readable code
	Message string `json:"message"` // human-readable message
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, errorResponse{Error: errorCode, Message: message})
}
