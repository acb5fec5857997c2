package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"routemate/internal/auth"
	"routemate/internal/locations"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
)

// handleServiceError maps domain errors to responses. Anything unrecognised
// is logged and reported as a generic 500.
func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, profiles.ErrValidation),
		errors.Is(err, onboarding.ErrValidation),
		errors.Is(err, locations.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoSession):
		unauthorized(w)
	case errors.Is(err, onboarding.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrEmailInUse):
		writeError(w, http.StatusConflict, "email already in use")
	case errors.Is(err, onboarding.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "email already belongs to a member")
	case errors.Is(err, profiles.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, onboarding.ErrInvalidInvite):
		writeError(w, http.StatusGone, "invitation is invalid or has expired")
	case errors.Is(err, locations.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
	case errors.Is(err, locations.ErrNotFound):
		writeError(w, http.StatusNotFound, "location not found")
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, profiles.ErrNotFound),
		errors.Is(err, onboarding.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.Error("service error", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}
