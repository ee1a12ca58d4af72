// Package httpapi wires the chi routers for the authorization-server and
// resource-server HTTP surfaces (spec §6) and provides the shared JSON
// error envelope helper, generalized from the teacher's response helper.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON is the shared error envelope: {"error": "...",
// "error_description": "..."}, matching the exchange-error shape of spec §7.
func writeErrorJSON(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
