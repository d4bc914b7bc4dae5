package handler

// RESPONSE CONTRACT:
// Every JSON body carries a "status" tag the frontend switches on:
//
//	{"status": "SUCCESS", "message": "login successful", "user": {...}}
//	{"status": "PENDING", "message": "verification email sent to a@b.c"}
//	{"status": "FAILED",  "error": "expired", "message": "link has expired, please sign up again"}
//
// Failures always come from writeError, which is the only place an
// apperror sentinel is turned into an HTTP status code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
	"github.com/sakif/digest/internal/service"
)

// maxBodyBytes bounds JSON request bodies. Summarize requests are checked
// against summarizer.MaxTextBytes on top of this.
const maxBodyBytes = 1 << 20

// Response is the body of every successful or pending call.
type Response struct {
	Status  service.Status       `json:"status"`
	Message string               `json:"message"`
	User    *model.PublicAccount `json:"user,omitempty"`
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Status  service.Status `json:"status"`          // always FAILED
	Error   string         `json:"error"`           // machine-readable type, e.g. "expired"
	Message string         `json:"message"`         // safe to show to the user
	Field   string         `json:"field,omitempty"` // offending input field, validation only
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all that is left is to log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeResult renders a workflow result with the given status code.
func writeResult(w http.ResponseWriter, status int, res *service.Result) {
	writeJSON(w, status, Response{
		Status:  res.Status,
		Message: res.Message,
		User:    res.Account,
	})
}

// errorStatus maps an error to its HTTP status and machine-readable type.
//
// ErrMismatch is a 400 rather than a 401: it is only produced by the
// verification link, where the caller is not authenticating anyone.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrMismatch):
		return http.StatusBadRequest, "mismatch"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, apperror.ErrExternal):
		return http.StatusBadGateway, "external_error"
	case errors.Is(err, apperror.ErrPersistence):
		return http.StatusInternalServerError, "persistence_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err as a FAILED response. Server-side failures are
// logged with their cause; the client only ever sees AppError.Message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, kind := errorStatus(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unclassified error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Status:  service.StatusFailed,
			Error:   "internal_error",
			Message: "something went wrong, please try again",
		})
		return
	}

	if status >= http.StatusInternalServerError {
		attrs := []any{slog.String("type", kind), slog.String("message", appErr.Message)}
		if appErr.Cause != nil {
			attrs = append(attrs, slog.String("cause", appErr.Cause.Error()))
		}
		logger.Error("request failed", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Status:  service.StatusFailed,
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are
// ignored so older clients keep working.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", "request body is too large")
		}
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}
