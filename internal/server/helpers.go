package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oklahomahail/Inkwell2-sub004/internal/keymanager"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

// statusFor maps the manager's error taxonomy to HTTP statuses. Anything
// unrecognized came from the store or a backend and surfaces as 502: the
// request was fine, the machinery behind it was not.
func statusFor(err error) int {
	switch {
	case errors.Is(err, keymanager.ErrIncorrectPassphrase):
		return http.StatusUnauthorized
	case errors.Is(err, keymanager.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, keymanager.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, keymanager.ErrProjectLocked):
		return http.StatusLocked
	case errors.Is(err, keymanager.ErrInvalidRecoveryKit):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	http.Error(w, op+": "+err.Error(), statusFor(err))
}
