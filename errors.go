package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/sessionauth/internal/auth"
)

const (
	codeServerError = "server-error"
	codeRateLimited = "rate-limited"
	codeBadRequest  = "invalid-data"
)

// APIError is the failure body returned by every endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Code: code, Message: message})
}

// statusFor maps an engine failure code to its HTTP status.
func statusFor(code auth.Code) int {
	switch code {
	case auth.CodeInvalidData, auth.CodeInvalidRole:
		return http.StatusBadRequest
	case auth.CodeAccountExists:
		return http.StatusConflict
	case auth.CodeCredentialMismatch, auth.CodeInvalidRefreshToken, auth.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case auth.CodeAccountNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports an engine error. Unexpected errors are logged and
// surfaced without detail.
func (a *App) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ae *auth.Error
	if errors.As(err, &ae) {
		writeError(w, statusFor(ae.Code), string(ae.Code), ae.Message)
		return
	}
	a.Log.ErrorContext(r.Context(), "request failed", slog.String("op", op), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, codeServerError, "")
}
