package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"routemate/internal/locations"
)

// SchemaVersion identifies the CSV export format version.
// Increment it when columns are added or their meaning changes.
const SchemaVersion = "1"

// csvColumns defines the column order for export. The editable columns match
// the import format so an export can be loaded into another organization.
var csvColumns = []string{
	"schemaVersion",
	"name",
	"address",
	"openingHours",
	"accessNotes",
	"parkingNotes",
	"receivingNotes",
	"specialConsiderations",
	"imageCount",
	"createdBy",
	"lastUpdatedBy",
	"createdAt",
	"lastUpdatedAt",
}

// CSVExporter exports delivery locations to CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes locations to w in CSV format.
func (e *CSVExporter) Export(w io.Writer, list []locations.Location) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, loc := range list {
		if err := writer.Write(e.locationToRow(loc)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (e *CSVExporter) locationToRow(loc locations.Location) []string {
	return []string{
		SchemaVersion,
		sanitizeCell(loc.Name),
		sanitizeCell(loc.Address),
		sanitizeCell(loc.OpeningHours),
		sanitizeCell(loc.AccessNotes),
		sanitizeCell(loc.ParkingNotes),
		sanitizeCell(loc.ReceivingNotes),
		sanitizeCell(loc.SpecialConsiderations),
		strconv.Itoa(len(loc.Images)),
		sanitizeCell(loc.CreatedBy.Name),
		sanitizeCell(loc.LastUpdatedBy.Name),
		formatTime(loc.CreatedAt),
		formatTime(loc.LastUpdatedAt),
	}
}

// sanitizeCell keeps spreadsheet applications from evaluating user text as
// a formula.
func sanitizeCell(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@':
		return "'" + value
	}
	return strings.ReplaceAll(value, "\r\n", "\n")
}

// formatTime formats a time to RFC3339 string.
func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
