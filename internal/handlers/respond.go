package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, pipeline.ErrorResponse{Error: msg})
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
