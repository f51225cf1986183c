package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as the response body with the given status.
// Encoding errors are dropped; the client has already seen the status line.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes {"error": code} plus any extra fields.
func Error(w http.ResponseWriter, status int, code string, extra map[string]any) {
	body := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = code
	WriteJSON(w, status, body)
}
