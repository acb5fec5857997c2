package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routemate/internal/locations"
)

func TestCSVExporter_ExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVExporter().Export(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, csvColumns, records[0])
}

func TestCSVExporter_ExportLocation(t *testing.T) {
	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	updated := time.Date(2025, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	var buf bytes.Buffer
	err := NewCSVExporter().Export(&buf, []locations.Location{{
		ID:             uuid.New(),
		Name:           "Kiwi Majorstuen",
		Address:        "Bogstadveien 52, 0366 Oslo",
		OpeningHours:   "07-23",
		AccessNotes:    "Back yard, code 4411\nReverse in",
		ReceivingNotes: "Ask for Per",
		Images:         []locations.Image{{ID: uuid.New()}, {ID: uuid.New()}},
		CreatedBy:      locations.Editor{UID: "u1", Name: "Kari"},
		LastUpdatedBy:  locations.Editor{UID: "u2", Name: "Ola"},
		CreatedAt:      created,
		LastUpdatedAt:  updated,
	}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	row := records[1]
	assert.Equal(t, []string{
		"1",
		"Kiwi Majorstuen",
		"Bogstadveien 52, 0366 Oslo",
		"07-23",
		"Back yard, code 4411\nReverse in",
		"",
		"Ask for Per",
		"",
		"2",
		"Kari",
		"Ola",
		"2025-03-01T08:00:00Z",
		"2025-03-02T08:30:00Z",
	}, row)
}

func TestCSVExporter_EscapesFormulas(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVExporter().Export(&buf, []locations.Location{{
		Name:    "=HYPERLINK(\"http://evil\")",
		Address: "@home",
	}}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "'=HYPERLINK(\"http://evil\")", records[1][1])
	assert.Equal(t, "'@home", records[1][2])
	assert.Equal(t, "", records[1][11])
}
