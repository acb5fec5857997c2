package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"routemate/internal/exporter"
	"routemate/internal/importer"
	"routemate/internal/locations"
)

const maxCSVUploadBytes int64 = 5 << 20

// TransferHandler moves locations in and out as CSV.
type TransferHandler struct {
	locations *locations.Service
	importer  *importer.CSVImporter
	exporter  *exporter.CSVExporter
	logger    *slog.Logger
}

// NewTransferHandler creates a handler.
func NewTransferHandler(service *locations.Service, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		locations: service,
		importer:  importer.NewCSVImporter(service),
		exporter:  exporter.NewCSVExporter(),
		logger:    logger,
	}
}

// ExportCSV downloads the organization's locations.
func (h *TransferHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	list, err := h.locations.List(r.Context(), locations.ListOptions{OrganizationID: memberFromRequest(r).OrganizationID})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Export(&buf, list); err != nil {
		h.logger.Error("csv export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="locations.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ImportCSV creates locations from an uploaded "file" field.
func (h *TransferHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCSVUploadBytes)
	if err := r.ParseMultipartForm(maxCSVUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("CSV upload is too large (max %d bytes)", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid CSV upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "CSV file is required")
		return
	}
	defer func() { _ = file.Close() }()

	summary, err := h.importer.Import(r.Context(), file, memberFromRequest(r))
	if err != nil {
		if errors.Is(err, importer.ErrInvalidCSV) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("csv import failed", "error", err)
		writeError(w, http.StatusInternalServerError, "bulk import failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
