package middleware

import (
	"encoding/json"
	"net/http"
)

// reject ends the request with the gateway's {"error": ...} body.
func reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
