package api

import (
	"encoding/json"
	"net/http"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// respondErr maps a categorized error to a status code and a safe message.
func respondErr(w http.ResponseWriter, err error, fallback string) {
	cat := apperr.CategoryOf(err)
	status := http.StatusInternalServerError
	switch cat {
	case apperr.CategoryNotFound:
		status = http.StatusNotFound
	case apperr.CategoryInvalidInput:
		status = http.StatusBadRequest
	case apperr.CategoryUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.CategoryRateLimited:
		status = http.StatusTooManyRequests
	case apperr.CategoryUnavailable:
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, string(cat), apperr.UserMessage(err, fallback))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
