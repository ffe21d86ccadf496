// Package httperr writes the JSON error bodies returned by the edge middleware.
package httperr

import (
	"net/http"

	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
)

// Body is the shape of every error response: {"error": "..."}.
type Body struct {
	Error string `json:"error"`
}

// Write sends status with a JSON error body.
func Write(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, Body{Error: message})
}
