package controlapi

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON envelope every handler writes.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo carries a machine-readable code alongside the message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries pagination metadata for list responses.
type Meta struct {
	Total   int `json:"total,omitempty"`
	Limit   int `json:"limit,omitempty"`
	Offset  int `json:"offset,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

func ok(w http.ResponseWriter, data interface{})       { writeJSON(w, http.StatusOK, data) }
func created(w http.ResponseWriter, data interface{})  { writeJSON(w, http.StatusCreated, data) }
func noContent(w http.ResponseWriter)                  { w.WriteHeader(http.StatusNoContent) }
func badRequest(w http.ResponseWriter, message string) { writeError(w, http.StatusBadRequest, "BAD_REQUEST", message) }
