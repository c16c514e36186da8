package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeStatus answers with a bare status code. Error responses carry no body.
func writeStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}
