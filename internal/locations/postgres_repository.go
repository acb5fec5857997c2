package locations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const locationColumns = `id, organization_id, name, address, opening_hours, access_notes, parking_notes, receiving_notes, special_considerations, created_by_uid, created_by_name, last_updated_by_uid, last_updated_by_name, created_at, last_updated_at`

const imageColumns = `id, location_id, path, url, caption, uploaded_by, uploaded_at`

// PostgresRepository persists locations to a Postgres database.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type locationRow struct {
	ID                    uuid.UUID `db:"id"`
	OrganizationID        string    `db:"organization_id"`
	Name                  string    `db:"name"`
	Address               string    `db:"address"`
	OpeningHours          string    `db:"opening_hours"`
	AccessNotes           string    `db:"access_notes"`
	ParkingNotes          string    `db:"parking_notes"`
	ReceivingNotes        string    `db:"receiving_notes"`
	SpecialConsiderations string    `db:"special_considerations"`
	CreatedByUID          string    `db:"created_by_uid"`
	CreatedByName         string    `db:"created_by_name"`
	LastUpdatedByUID      string    `db:"last_updated_by_uid"`
	LastUpdatedByName     string    `db:"last_updated_by_name"`
	CreatedAt             time.Time `db:"created_at"`
	LastUpdatedAt         time.Time `db:"last_updated_at"`
}

func toRow(l Location) locationRow {
	return locationRow{
		ID:                    l.ID,
		OrganizationID:        l.OrganizationID,
		Name:                  l.Name,
		Address:               l.Address,
		OpeningHours:          l.OpeningHours,
		AccessNotes:           l.AccessNotes,
		ParkingNotes:          l.ParkingNotes,
		ReceivingNotes:        l.ReceivingNotes,
		SpecialConsiderations: l.SpecialConsiderations,
		CreatedByUID:          l.CreatedBy.UID,
		CreatedByName:         l.CreatedBy.Name,
		LastUpdatedByUID:      l.LastUpdatedBy.UID,
		LastUpdatedByName:     l.LastUpdatedBy.Name,
		CreatedAt:             l.CreatedAt,
		LastUpdatedAt:         l.LastUpdatedAt,
	}
}

func (row locationRow) toLocation() Location {
	return Location{
		ID:                    row.ID,
		OrganizationID:        row.OrganizationID,
		Name:                  row.Name,
		Address:               row.Address,
		OpeningHours:          row.OpeningHours,
		AccessNotes:           row.AccessNotes,
		ParkingNotes:          row.ParkingNotes,
		ReceivingNotes:        row.ReceivingNotes,
		SpecialConsiderations: row.SpecialConsiderations,
		Images:                []Image{},
		CreatedBy:             Editor{UID: row.CreatedByUID, Name: row.CreatedByName},
		LastUpdatedBy:         Editor{UID: row.LastUpdatedByUID, Name: row.LastUpdatedByName},
		CreatedAt:             row.CreatedAt,
		LastUpdatedAt:         row.LastUpdatedAt,
	}
}

// Create inserts a new row and returns the stored representation.
func (r *PostgresRepository) Create(ctx context.Context, loc Location) (Location, error) {
	query := `INSERT INTO locations (` + locationColumns + `)
VALUES (:id, :organization_id, :name, :address, :opening_hours, :access_notes, :parking_notes, :receiving_notes, :special_considerations, :created_by_uid, :created_by_name, :last_updated_by_uid, :last_updated_by_name, :created_at, :last_updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, toRow(loc)); err != nil {
		return Location{}, fmt.Errorf("insert location: %w", err)
	}
	created := loc.clone()
	if created.Images == nil {
		created.Images = []Image{}
	}
	return created, nil
}

// Get retrieves a row by primary key and organization, with its images.
func (r *PostgresRepository) Get(ctx context.Context, orgID string, id uuid.UUID) (Location, error) {
	var row locationRow
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1 AND organization_id = $2`
	if err := r.db.GetContext(ctx, &row, query, id, orgID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Location{}, ErrNotFound
		}
		return Location{}, fmt.Errorf("get location: %w", err)
	}

	locs := []Location{row.toLocation()}
	if err := r.attachImages(ctx, locs); err != nil {
		return Location{}, err
	}
	return locs[0], nil
}

// List returns the organization's locations, newest first.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]Location, error) {
	var (
		clauses = []string{"organization_id = $1"}
		args    = []any{opts.OrganizationID}
	)
	if opts.Query != "" {
		args = append(args, "%"+escapeLike(opts.Query)+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR address ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + locationColumns + ` FROM locations WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []locationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}

	locs := make([]Location, 0, len(rows))
	for _, row := range rows {
		locs = append(locs, row.toLocation())
	}
	if err := r.attachImages(ctx, locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (r *PostgresRepository) attachImages(ctx context.Context, locs []Location) error {
	if len(locs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(locs))
	index := make(map[uuid.UUID]int, len(locs))
	for i, loc := range locs {
		ids = append(ids, loc.ID.String())
		index[loc.ID] = i
	}

	var images []Image
	query := `SELECT ` + imageColumns + ` FROM location_images WHERE location_id = ANY($1::uuid[]) ORDER BY uploaded_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &images, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list location images: %w", err)
	}
	for _, img := range images {
		if i, ok := index[img.LocationID]; ok {
			locs[i].Images = append(locs[i].Images, img)
		}
	}
	return nil
}

// Update writes the editable fields and the last-updated stamp.
func (r *PostgresRepository) Update(ctx context.Context, loc Location) (Location, error) {
	query := `UPDATE locations SET
    name = :name,
    address = :address,
    opening_hours = :opening_hours,
    access_notes = :access_notes,
    parking_notes = :parking_notes,
    receiving_notes = :receiving_notes,
    special_considerations = :special_considerations,
    last_updated_by_uid = :last_updated_by_uid,
    last_updated_by_name = :last_updated_by_name,
    last_updated_at = :last_updated_at
WHERE id = :id AND organization_id = :organization_id`

	result, err := r.db.NamedExecContext(ctx, query, toRow(loc))
	if err != nil {
		return Location{}, fmt.Errorf("update location: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return Location{}, ErrNotFound
	}
	return r.Get(ctx, loc.OrganizationID, loc.ID)
}

// Delete removes a location. Its image rows cascade.
func (r *PostgresRepository) Delete(ctx context.Context, orgID string, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM locations WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AddImage(ctx context.Context, img Image) error {
	query := `INSERT INTO location_images (` + imageColumns + `)
VALUES (:id, :location_id, :path, :url, :caption, :uploaded_by, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, img); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert location image: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveImage(ctx context.Context, locationID, imageID uuid.UUID) (Image, error) {
	var img Image
	query := `DELETE FROM location_images WHERE id = $1 AND location_id = $2 RETURNING ` + imageColumns
	if err := r.db.GetContext(ctx, &img, query, imageID, locationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Image{}, ErrNotFound
		}
		return Image{}, fmt.Errorf("delete location image: %w", err)
	}
	return img, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
