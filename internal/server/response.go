package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentserver/agentserver/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr renders err as the Control Surface's standard error body, with
// the HTTP status and a stable kind string chosen from apperr.Kind rather
// than from the error's free-text message.
func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]interface{}{
		"success": false,
		"error":   string(apperr.KindOf(err)),
		"message": err.Error(),
	})
}
