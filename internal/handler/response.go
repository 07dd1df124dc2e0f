package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so that all
// responses share one shape. Errors always look like
//
//	{"error": "not_found", "message": "checkin not found with id 2026-02-20/alice"}
//
// whatever the status code, so clients can branch on "error" alone.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable, e.g. "not_found"
	Message string `json:"message"`         // human-readable
	Field   string `json:"field,omitempty"` // offending input for validation errors
}

// writeJSON sets headers, then the status, then encodes the body. Headers
// changed after the first body byte are ignored by net/http.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are gone already; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status.
//
// Services return apperror values wrapped with context; errors.Is walks the
// chain to find the sentinel and errors.As pulls out the AppError for its
// message. Anything else is an unexpected failure: it is logged and the
// client gets a generic 500 asking it to retry, without internal details.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest // 400
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized // 401
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden // 403
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
			errorType = "conflict"
		case errors.Is(err, apperror.ErrTooManyRequests):
			status = http.StatusTooManyRequests // 429
			errorType = "too_many_requests"
		}

		// An AppError whose sentinel is not in the switch is a bug in this
		// file, not the client's fault.
		if status == http.StatusInternalServerError {
			slog.Error("unmapped application error", slog.String("error", err.Error()))
		}
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	// Not an AppError: a database, cache or encoding failure. The full
	// wrapped chain goes to the log; the client gets a generic message.
	slog.Error("request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Something went wrong. Please try again.",
	})
}

// decodeJSON reads a bounded JSON body into dst. Malformed input becomes a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	// MaxBytesReader fails the read past the cap, so a client cannot make
	// the server buffer an arbitrarily large body.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	// A typo like "credentail" is a 400, not a silently empty field.
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be at most %d bytes", maxBodyBytes))
		// Decode returns io.EOF only when the body is empty.
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body")
		}
	}
	return nil
}

// requireHandle returns the patron handle of an authenticated request.
// Admin tokens carry no handle and are refused.
func requireHandle(w http.ResponseWriter, r *http.Request) (string, bool) {
	handle, ok := auth.HandleFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("a patron session is required"))
		return "", false
	}
	return handle, true
}

// setSessionCookie stores token in the HttpOnly session cookie.
func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	// COOKIE FLAGS:
	//
	//	HttpOnly  page scripts cannot read the token
	//	Secure    only over HTTPS; off for plain-HTTP local runs
	//	SameSite  Lax: sent on top-level navigation, not on cross-site POSTs
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
