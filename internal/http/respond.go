package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/service/auth"
	"github.com/splax/confvault/pkg/crypto"
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

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crypto.ErrDecryption):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps err to a status. Server errors are logged and never
// echoed to the client.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "method", req.Method, "error", err)
		writeError(w, status, "internal error")
		return
	}
	if errors.Is(err, crypto.ErrDecryption) {
		r.recordDecryptFailure()
	}
	writeError(w, status, err.Error())
}
