package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"filedrop/internal/domain"
	"filedrop/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: engine failures wrap the more specific input sentinels.
var errorMappings = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvalidDirectory, http.StatusBadRequest, "invalid_directory"},
	{domain.ErrInvalidDescriptor, http.StatusBadRequest, "invalid_descriptor"},
	{domain.ErrFileNotFound, http.StatusBadRequest, "file_not_found"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{domain.ErrSessionExists, http.StatusConflict, "session_exists"},
	{domain.ErrSessionCancelled, http.StatusConflict, "session_cancelled"},
	{domain.ErrNoDescriptor, http.StatusConflict, "no_descriptor"},
	{usecase.ErrInsufficientSpace, http.StatusInsufficientStorage, "insufficient_space"},
	{domain.ErrEngineFailure, http.StatusBadGateway, "engine_error"},
	{usecase.ErrEngine, http.StatusBadGateway, "engine_error"},
	{domain.ErrStoreWrite, http.StatusInternalServerError, "repository_error"},
	{usecase.ErrRepository, http.StatusInternalServerError, "repository_error"},
}

func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// storeOnly reports whether err carries nothing but a failed store write,
// meaning the requested work itself went ahead.
func storeOnly(err error) bool {
	return errors.Is(err, domain.ErrStoreWrite) &&
		!errors.Is(err, usecase.ErrEngine) &&
		!errors.Is(err, domain.ErrNoDescriptor)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// splitPath returns the non-empty segments of path after prefix.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func progressRatio(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	progress := float64(done) / float64(total)
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}
