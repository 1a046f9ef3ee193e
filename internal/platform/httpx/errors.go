// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrUnprocessable = errors.New("unprocessable entity")
	ErrConflict      = errors.New("conflict")
	ErrState         = errors.New("invalid state")
	ErrForbidden     = errors.New("forbidden")
)

// Extender is implemented by domain errors carrying problem extension members.
type Extender interface {
	ProblemExtensions() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ext map[string]any
	var extender Extender
	if errors.As(err, &extender) {
		ext = extender.ProblemExtensions()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, ErrDuplicate):
		ProblemWith(w, http.StatusConflict, "Duplicate", err.Error(), ext)
	case errors.Is(err, ErrUnprocessable):
		ProblemWith(w, http.StatusUnprocessableEntity, "Unbalanced Voucher", err.Error(), ext)
	case errors.Is(err, ErrValidation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), ext)
	case errors.Is(err, ErrState):
		ProblemWith(w, http.StatusConflict, "Invalid State", err.Error(), ext)
	case errors.Is(err, ErrConflict):
		ProblemWith(w, http.StatusConflict, "Conflict", err.Error(), ext)
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		slog.Default().Error("unhandled error", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
