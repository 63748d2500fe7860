package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skyhook-dev/skyhook/internal/docker"
	"github.com/skyhook-dev/skyhook/internal/repository"
	"github.com/skyhook-dev/skyhook/internal/service/release"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, release.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, docker.ErrContainerNotFound):
		writeError(w, http.StatusConflict, "release has no running container")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
