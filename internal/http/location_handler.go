package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"routemate/internal/locations"
)

// Multipart overhead allowed on top of the image itself.
const multipartOverhead int64 = 1 << 20

// LocationHandler exposes delivery location endpoints.
type LocationHandler struct {
	service       *locations.Service
	maxImageBytes int64
	logger        *slog.Logger
}

// NewLocationHandler creates a handler.
func NewLocationHandler(service *locations.Service, maxImageBytes int64, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{service: service, maxImageBytes: maxImageBytes, logger: logger}
}

type locationPayload struct {
	Name                  *string `json:"name"`
	Address               *string `json:"address"`
	OpeningHours          *string `json:"openingHours"`
	AccessNotes           *string `json:"accessNotes"`
	ParkingNotes          *string `json:"parkingNotes"`
	ReceivingNotes        *string `json:"receivingNotes"`
	SpecialConsiderations *string `json:"specialConsiderations"`
}

func (p locationPayload) createInput() locations.CreateInput {
	return locations.CreateInput{
		Name:                  deref(p.Name),
		Address:               deref(p.Address),
		OpeningHours:          deref(p.OpeningHours),
		AccessNotes:           deref(p.AccessNotes),
		ParkingNotes:          deref(p.ParkingNotes),
		ReceivingNotes:        deref(p.ReceivingNotes),
		SpecialConsiderations: deref(p.SpecialConsiderations),
	}
}

func (p locationPayload) updateInput() locations.UpdateInput {
	return locations.UpdateInput{
		Name:                  p.Name,
		Address:               p.Address,
		OpeningHours:          p.OpeningHours,
		AccessNotes:           p.AccessNotes,
		ParkingNotes:          p.ParkingNotes,
		ReceivingNotes:        p.ReceivingNotes,
		SpecialConsiderations: p.SpecialConsiderations,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func memberFromRequest(r *http.Request) locations.Member {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return locations.Member{}
	}
	return locations.Member{UID: claims.UID(), Name: claims.Name, OrganizationID: claims.OrganizationID}
}

// List returns the organization's locations, newest first.
func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := locations.ListOptions{
		OrganizationID: memberFromRequest(r).OrganizationID,
		Query:          strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	list, err := h.service.List(r.Context(), opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": list})
}

func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload locationPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	loc, err := h.service.Create(r.Context(), memberFromRequest(r), payload.createInput())
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"location": loc})
}

func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	loc, err := h.service.Get(r.Context(), memberFromRequest(r).OrganizationID, id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": loc})
}

// Update applies the fields present in the body.
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var payload locationPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	loc, err := h.service.Update(r.Context(), memberFromRequest(r), id, payload.updateInput())
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": loc})
}

func (h *LocationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), memberFromRequest(r).OrganizationID, id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddImage accepts a multipart upload with an "image" file and an optional
// "caption" field.
func (h *LocationHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, locations.ErrImageTooLarge, h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	loc, err := h.service.AddImage(r.Context(), memberFromRequest(r), id, locations.ImageUpload{
		Content: file,
		Caption: r.FormValue("caption"),
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"location": loc})
}

func (h *LocationHandler) RemoveImage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	imageID, ok := parseUUIDParam(w, r, "imageId")
	if !ok {
		return
	}

	loc, err := h.service.RemoveImage(r.Context(), memberFromRequest(r), id, imageID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": loc})
}

// File streams a stored photo for backends that do not serve objects
// themselves.
func (h *LocationHandler) File(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	rc, err := h.service.OpenImage(r.Context(), memberFromRequest(r).OrganizationID, key)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	defer func() {
		_ = rc.Close()
	}()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("streaming image failed", "path", key, "error", err)
	}
}
