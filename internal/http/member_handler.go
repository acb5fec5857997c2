package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"routemate/internal/auth"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
)

// MemberHandler exposes organization membership and invitation endpoints.
type MemberHandler struct {
	auth       *auth.Service
	onboarding *onboarding.Service
	profiles   *profiles.Service
	logger     *slog.Logger
}

// NewMemberHandler creates a handler.
func NewMemberHandler(authSvc *auth.Service, onboardingSvc *onboarding.Service, profileSvc *profiles.Service, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{auth: authSvc, onboarding: onboardingSvc, profiles: profileSvc, logger: logger}
}

// List returns the profiles of the caller's organization.
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	members, err := h.profiles.Members(r.Context(), claims.OrganizationID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// UpdateRole changes another member's role.
func (h *MemberHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role string `json:"role"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	actor := onboarding.ActorFromClaims(ClaimsFromContext(r.Context()))
	profile, err := h.onboarding.UpdateRole(r.Context(), actor, chi.URLParam(r, "uid"), profiles.Role(payload.Role))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": profile})
}

// ListInvitations returns the organization's invitations.
func (h *MemberHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	actor := onboarding.ActorFromClaims(ClaimsFromContext(r.Context()))
	invitations, err := h.onboarding.ListInvitations(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

// Invite creates an invitation and returns its link. Delivering the link
// is up to the admin.
func (h *MemberHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		Role        string `json:"role"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	actor := onboarding.ActorFromClaims(ClaimsFromContext(r.Context()))
	result, err := h.onboarding.Invite(r.Context(), actor, onboarding.InviteInput{
		Email:       payload.Email,
		Role:        profiles.Role(payload.Role),
		DisplayName: payload.DisplayName,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invitation": result.Invitation, "link": result.Link})
}

// RevokeInvitation deletes an invitation.
func (h *MemberHandler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	actor := onboarding.ActorFromClaims(ClaimsFromContext(r.Context()))
	if err := h.onboarding.RevokeInvitation(r.Context(), actor, id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupInvitation describes a usable invitation to the invitee.
func (h *MemberHandler) LookupInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.onboarding.LookupInvitation(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	org, err := h.profiles.Organization(r.Context(), inv.OrganizationID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Email            string        `json:"email"`
		Role             profiles.Role `json:"role"`
		DisplayName      string        `json:"displayName"`
		OrganizationName string        `json:"organizationName"`
		ExpiresAt        time.Time     `json:"expiresAt"`
	}{inv.Email, inv.Role, inv.DisplayName, org.Name, inv.ExpiresAt})
}

// AcceptInvitation creates the invitee's account and signs them in.
func (h *MemberHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	membership, err := h.onboarding.AcceptInvite(r.Context(), chi.URLParam(r, "token"), onboarding.AcceptInput{
		Name:     payload.Name,
		Password: payload.Password,
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
