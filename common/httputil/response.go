// Package httputil provides JSON response helpers for the operational API.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeJSONAPI = "application/vnd.api+json"
)

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, contentTypeJSON, status, data)
}

// WriteJSONAPI writes data with the JSON:API content type.
func WriteJSONAPI(w http.ResponseWriter, status int, data interface{}) {
	write(w, contentTypeJSONAPI, status, data)
}

// WriteJSONAPIError writes a single-entry JSON:API error document.
func WriteJSONAPIError(w http.ResponseWriter, status int, code, title, detail string) {
	WriteJSONAPI(w, status, ErrorDocument{
		Errors: []ErrorObject{{Status: status, Code: code, Title: title, Detail: detail}},
	})
}

// WriteMethodNotAllowed writes a 405 error advertising the allowed method.
func WriteMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteJSONAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed", "")
}

// ErrorDocument is a JSON:API error response.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject is one JSON:API error entry.
type ErrorObject struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func write(w http.ResponseWriter, contentType string, status int, data interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
