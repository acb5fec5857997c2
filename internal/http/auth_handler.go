package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"routemate/internal/auth"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
)

// AuthHandler exposes registration, sign-in and the caller's own profile.
type AuthHandler struct {
	auth       *auth.Service
	onboarding *onboarding.Service
	profiles   *profiles.Service
	logger     *slog.Logger
}

// NewAuthHandler creates a handler.
func NewAuthHandler(authSvc *auth.Service, onboardingSvc *onboarding.Service, profileSvc *profiles.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, onboarding: onboardingSvc, profiles: profileSvc, logger: logger}
}

type sessionResponse struct {
	auth.TokenBundle
	Session *auth.Session     `json:"session"`
	Profile *profiles.Profile `json:"profile"`
}

// Register creates an organization with the caller as its admin and signs
// them in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name             string `json:"name"`
		OrganizationName string `json:"organizationName"`
		Email            string `json:"email"`
		Password         string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	membership, err := h.onboarding.Register(r.Context(), onboarding.RegisterInput{
		Name:             payload.Name,
		OrganizationName: payload.OrganizationName,
		Email:            payload.Email,
		Password:         payload.Password,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	session, bundle, err := h.auth.SignInAccount(r.Context(), membership.Account.UID, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	profile := membership.Profile
	writeJSON(w, http.StatusCreated, sessionResponse{TokenBundle: bundle, Session: session, Profile: &profile})
}

// Login signs in with email and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	session, bundle, err := h.auth.SignIn(r.Context(), payload.Email, payload.Password, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("failed sign-in", "ip", clientIPFromRequest(r))
		}
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{TokenBundle: bundle, Session: session, Profile: h.lookupProfile(r, session.UID)})
}

// Refresh exchanges a refresh token for a new token bundle.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	session, bundle, err := h.auth.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{TokenBundle: bundle, Session: session, Profile: h.lookupProfile(r, session.UID)})
}

// Logout destroys the session behind the bearer token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		unauthorized(w)
		return
	}
	if err := h.auth.SignOut(r.Context(), sessionID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll signs the caller out of every session, including this one.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.auth.RevokeSessions(r.Context(), claims.UID()); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's profile record and token claims. The profile is
// null while registration is still writing it.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": h.lookupProfile(r, claims.UID()),
		"claims":  claims,
	})
}

// UpdateMe changes the caller's display name.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	actor := onboarding.ActorFromClaims(ClaimsFromContext(r.Context()))
	profile, err := h.onboarding.Rename(r.Context(), actor, payload.DisplayName)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (h *AuthHandler) lookupProfile(r *http.Request, uid string) *profiles.Profile {
	profile, err := h.profiles.Get(r.Context(), uid)
	if err != nil {
		if !errors.Is(err, profiles.ErrNotFound) {
			h.logger.Error("lookup profile", "uid", uid, "error", err)
		}
		return nil
	}
	return &profile
}
