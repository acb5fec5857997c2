package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"routemate/internal/locations"
)

// LocationStore is the part of the locations service an import writes to.
type LocationStore interface {
	Create(ctx context.Context, member locations.Member, input locations.CreateInput) (locations.Location, error)
	List(ctx context.Context, opts locations.ListOptions) ([]locations.Location, error)
}

type Summary struct {
	TotalRows         int             `json:"totalRows"`
	Imported          int             `json:"imported"`
	SkippedDuplicates []SkippedRecord `json:"skippedDuplicates"`
	Failed            []FailedRecord  `json:"failed"`
	TruncatedRecords  bool            `json:"truncatedRecords,omitempty"`
}

type SkippedRecord struct {
	Row     int    `json:"row"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason"`
}

type FailedRecord struct {
	Row   int    `json:"row"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

var ErrInvalidCSV = errors.New("invalid csv upload")

// MaxImportRows limits the number of data rows processed per CSV import.
const MaxImportRows = 1000

// MaxFailedRecords caps the failed and skipped records kept in the summary.
const MaxFailedRecords = 100

var requiredColumns = []string{
	"name",
	"address",
}

type CSVImporter struct {
	locations LocationStore
}

func NewCSVImporter(store LocationStore) *CSVImporter {
	return &CSVImporter{locations: store}
}

// Import creates a location for every new row. A row whose name and address
// match an existing location, or an earlier row, is skipped.
func (i *CSVImporter) Import(ctx context.Context, reader io.Reader, member locations.Member) (Summary, error) {
	if i.locations == nil {
		return Summary{}, fmt.Errorf("%w: location store is not configured", ErrInvalidCSV)
	}

	existing, err := i.locations.List(ctx, locations.ListOptions{OrganizationID: member.OrganizationID})
	if err != nil {
		return Summary{}, err
	}
	tracker := newDuplicateTracker(existing)

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Summary{}, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
		}
		return Summary{}, fmt.Errorf("%w: failed to read header", ErrInvalidCSV)
	}

	columns, err := normalizeHeader(header)
	if err != nil {
		return Summary{}, err
	}

	type parsedRow struct {
		number int
		values map[string]string
	}

	var rows []parsedRow
	rowNumber := 1
	totalRows := 0

	for {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Summary{}, fmt.Errorf("%w: failed to read row %d", ErrInvalidCSV, rowNumber+1)
		}
		rowNumber++
		values := mapRecord(columns, record)
		if isRowEmpty(values) {
			continue
		}

		totalRows++
		if totalRows > MaxImportRows {
			return Summary{}, fmt.Errorf("%w: CSV exceeds maximum of %d rows", ErrInvalidCSV, MaxImportRows)
		}
		rows = append(rows, parsedRow{number: rowNumber, values: values})
	}

	summary := Summary{
		TotalRows:         totalRows,
		SkippedDuplicates: []SkippedRecord{},
		Failed:            []FailedRecord{},
	}

	for _, row := range rows {
		input := buildInput(row.values)

		if tracker.Seen(input.Name, input.Address) {
			if len(summary.SkippedDuplicates) < MaxFailedRecords {
				summary.SkippedDuplicates = append(summary.SkippedDuplicates, SkippedRecord{
					Row:     row.number,
					Name:    input.Name,
					Address: input.Address,
					Reason:  "duplicate name and address",
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		if _, err := i.locations.Create(ctx, member, input); err != nil {
			if !errors.Is(err, locations.ErrValidation) {
				return summary, err
			}
			if len(summary.Failed) < MaxFailedRecords {
				summary.Failed = append(summary.Failed, FailedRecord{
					Row:   row.number,
					Name:  input.Name,
					Error: err.Error(),
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		tracker.Add(input.Name, input.Address)
		summary.Imported++
	}

	return summary, nil
}

func buildInput(values map[string]string) locations.CreateInput {
	return locations.CreateInput{
		Name:                  unescapeCell(values["name"]),
		Address:               unescapeCell(values["address"]),
		OpeningHours:          unescapeCell(values["openinghours"]),
		AccessNotes:           unescapeCell(values["accessnotes"]),
		ParkingNotes:          unescapeCell(values["parkingnotes"]),
		ReceivingNotes:        unescapeCell(values["receivingnotes"]),
		SpecialConsiderations: unescapeCell(values["specialconsiderations"]),
	}
}

// unescapeCell reverses the formula guard the exporter adds.
func unescapeCell(value string) string {
	if len(value) > 1 && value[0] == '\'' && strings.ContainsRune("=+-@", rune(value[1])) {
		return value[1:]
	}
	return value
}

func normalizeHeader(header []string) (map[int]string, error) {
	columns := make(map[int]string, len(header))
	seen := map[string]bool{}
	for idx, raw := range header {
		cleaned := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if cleaned == "" {
			continue
		}
		columns[idx] = cleaned
		seen[cleaned] = true
	}

	missing := make([]string, 0)
	for _, column := range requiredColumns {
		if !seen[column] {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}
	return columns, nil
}

func mapRecord(columns map[int]string, record []string) map[string]string {
	values := make(map[string]string, len(columns))
	for idx, column := range columns {
		if idx >= len(record) {
			values[column] = ""
			continue
		}
		values[column] = strings.TrimSpace(record[idx])
	}
	return values
}

func isRowEmpty(values map[string]string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}

type duplicateTracker struct {
	known map[string]struct{}
}

func newDuplicateTracker(existing []locations.Location) *duplicateTracker {
	tracker := &duplicateTracker{known: map[string]struct{}{}}
	for _, loc := range existing {
		tracker.Add(loc.Name, loc.Address)
	}
	return tracker
}

func duplicateKey(name, address string) string {
	normalize := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return normalize(name) + "\x00" + normalize(address)
}

func (t *duplicateTracker) Seen(name, address string) bool {
	_, ok := t.known[duplicateKey(name, address)]
	return ok
}

func (t *duplicateTracker) Add(name, address string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	t.known[duplicateKey(name, address)] = struct{}{}
}
